package worker

import (
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (r *Runner) spawnWorkerPool() {
	for i := 0; i < r.concurrency; i++ {
		r.wg.Add(1)
		go r.workerLoop(i)
	}

	r.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", r.concurrency),
	)
}

// workerLoop processes tasks until the jobs channel is closed and drained
func (r *Runner) workerLoop(workerNum int) {
	defer r.wg.Done()

	workerName := fmt.Sprintf("%s-%d", r.workerID, workerNum)
	r.logger.Debug("Worker goroutine started", slog.String("worker_name", workerName))

	for t := range r.jobsChan {
		r.logger.Info("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", t.msg.JobID),
		)

		r.processJob(t.msg)

		// failures are terminal, so queue deliveries are always acked once handled
		if t.acker != nil {
			if err := t.acker.Ack(t.msg.DeliveryTag, false); err != nil {
				r.logger.Error("Failed to ACK message",
					slog.String("worker_name", workerName),
					slog.String("job_id", t.msg.JobID),
					slog.Any("error", err),
				)
			}
		}
	}

	r.logger.Debug("Worker goroutine stopping - jobsChan closed", slog.String("worker_name", workerName))
}

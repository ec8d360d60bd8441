package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches jobs to the worker pool
func (r *Runner) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	r.logger.Info("Message dispatcher started", slog.String("worker_id", r.workerID))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				r.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var msg domain.JobMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				r.logger.Error("Failed to parse message JSON",
					slog.Any("error", err),
					slog.String("body", string(delivery.Body)),
				)
				r.reject(delivery)
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				r.logger.Error("Invalid job_id format - not a UUID",
					slog.String("job_id", msg.JobID),
				)
				r.reject(delivery)
				continue
			}

			msg.DeliveryTag = delivery.DeliveryTag
			select {
			case r.jobsChan <- task{msg: msg, acker: delivery.Acknowledger}:
				r.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				r.logger.Info("Message dispatcher stopped while dispatching job")
				// hand it back so the next process picks it up
				if err := delivery.Nack(false, true); err != nil {
					r.logger.Error("Failed to NACK message on shutdown", slog.Any("error", err))
				}
				return
			}
		}
	}
}

// reject drops a malformed message without requeue
func (r *Runner) reject(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		r.logger.Error("Failed to NACK malformed message", slog.Any("error", err))
	}
}

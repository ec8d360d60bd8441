package artifact

import (
	"context"
	"fmt"
	"strings"
)

const (
	DriverLocal = "local"
	DriverS3    = "s3"
)

// Store persists rendered artifacts and hands back an opaque reference
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// ObjectName is the storage name of a job's artifact
func ObjectName(jobID string) string {
	return jobID + ".pdf"
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

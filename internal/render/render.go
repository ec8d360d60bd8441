package render

import (
	"context"

	"github.com/cuongbtq/invoice-service/internal/domain"
)

const ContentTypePDF = "application/pdf"

// Renderer turns a job's invoice payload into artifact bytes
type Renderer interface {
	Render(ctx context.Context, job *domain.Job) ([]byte, error)
}

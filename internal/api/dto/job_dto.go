package dto

import (
	"time"

	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/shopspring/decimal"
)

type LineItemRequest struct {
	Description string          `json:"description" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
}

type CreateJobRequest struct {
	InvoiceNumber string            `json:"invoice_number" binding:"max=64"`
	ClientName    string            `json:"client_name" binding:"required"`
	ClientEmail   string            `json:"client_email" binding:"omitempty,email"`
	ClientAddress string            `json:"client_address"`
	IssueDate     string            `json:"issue_date"`
	DueDate       string            `json:"due_date"`
	Currency      string            `json:"currency" binding:"omitempty,len=3"`
	Notes         string            `json:"notes"`
	LineItems     []LineItemRequest `json:"line_items" binding:"required,min=1,dive"`
	Tax           decimal.Decimal   `json:"tax"`
	Total         decimal.Decimal   `json:"total"`
}

// ToPayload converts the request body into an unnormalized invoice payload
func (r *CreateJobRequest) ToPayload() domain.InvoicePayload {
	items := make([]domain.LineItem, 0, len(r.LineItems))
	for _, item := range r.LineItems {
		items = append(items, domain.LineItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			Rate:        item.Rate,
		})
	}

	return domain.InvoicePayload{
		InvoiceNumber: r.InvoiceNumber,
		ClientName:    r.ClientName,
		ClientEmail:   r.ClientEmail,
		ClientAddress: r.ClientAddress,
		IssueDate:     r.IssueDate,
		DueDate:       r.DueDate,
		Currency:      r.Currency,
		Notes:         r.Notes,
		LineItems:     items,
		Tax:           r.Tax,
		Total:         r.Total,
	}
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	InvoiceNumber string `json:"invoice_number"`
	ClientName    string `json:"client_name"`
	Currency      string `json:"currency"`
	Total         string `json:"total"`
	DownloadURL   string `json:"download_url,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// NewJobDTO renders a job for API responses. downloadURL is only set once the job is ready.
func NewJobDTO(job *domain.Job, downloadURL string) JobDTO {
	out := JobDTO{
		JobID:         job.ID,
		Status:        string(job.Status),
		InvoiceNumber: job.Payload.DisplayNumber(job.ID),
		ClientName:    job.Payload.ClientName,
		Currency:      job.Payload.Currency,
		Total:         job.Payload.Total.StringFixed(2),
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.Format(time.RFC3339),
	}
	if job.Downloadable() {
		out.DownloadURL = downloadURL
	}
	return out
}

package render

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/go-pdf/fpdf"
)

const (
	pageMargin = 15.0
	lineHeight = 7.0
)

// column widths for description, quantity, rate, amount; sums to the A4 body width
var columnWidths = [4]float64{95, 25, 30, 30}

// PDFRenderer draws a plain tabular invoice on A4
type PDFRenderer struct {
	font string
}

// NewPDFRenderer creates a new PDFRenderer using a core font
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{font: "Helvetica"}
}

// Render produces the PDF document for job
func (r *PDFRenderer) Render(ctx context.Context, job *domain.Job) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := job.Payload
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetTitle("Invoice "+p.DisplayNumber(job.ID), true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	pdf.SetFont(r.font, "B", 20)
	pdf.CellFormat(0, 10, "INVOICE", "", 1, "L", false, 0, "")

	pdf.SetFont(r.font, "", 10)
	pdf.CellFormat(0, 6, tr("Invoice #: "+p.DisplayNumber(job.ID)), "", 1, "L", false, 0, "")
	if p.IssueDate != "" {
		pdf.CellFormat(0, 6, tr("Issue date: "+p.IssueDate), "", 1, "L", false, 0, "")
	}
	if p.DueDate != "" {
		pdf.CellFormat(0, 6, tr("Due date: "+p.DueDate), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont(r.font, "B", 11)
	pdf.CellFormat(0, 6, "Bill to", "", 1, "L", false, 0, "")
	pdf.SetFont(r.font, "", 10)
	pdf.CellFormat(0, 6, tr(p.ClientName), "", 1, "L", false, 0, "")
	if p.ClientEmail != "" {
		pdf.CellFormat(0, 6, tr(p.ClientEmail), "", 1, "L", false, 0, "")
	}
	if p.ClientAddress != "" {
		pdf.MultiCell(0, 6, tr(p.ClientAddress), "", "L", false)
	}
	pdf.Ln(6)

	pdf.SetFont(r.font, "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range []string{"Description", "Qty", "Rate", "Amount"} {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(columnWidths[i], lineHeight, h, "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont(r.font, "", 10)
	for _, item := range p.LineItems {
		pdf.CellFormat(columnWidths[0], lineHeight, tr(item.Description), "1", 0, "L", false, 0, "")
		pdf.CellFormat(columnWidths[1], lineHeight, item.Quantity.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(columnWidths[2], lineHeight, item.Rate.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(columnWidths[3], lineHeight, item.Amount.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	labelWidth := columnWidths[0] + columnWidths[1] + columnWidths[2]
	totals := []struct {
		label string
		value string
		style string
	}{
		{label: "Subtotal", value: p.Subtotal.StringFixed(2)},
		{label: "Tax", value: p.Tax.StringFixed(2)},
		{label: "Total (" + p.Currency + ")", value: p.Total.StringFixed(2), style: "B"},
	}
	for _, row := range totals {
		pdf.SetFont(r.font, row.style, 10)
		pdf.CellFormat(labelWidth, lineHeight, row.label, "", 0, "R", false, 0, "")
		pdf.CellFormat(columnWidths[3], lineHeight, row.value, "1", 1, "R", false, 0, "")
	}

	if p.Notes != "" {
		pdf.Ln(6)
		pdf.SetFont(r.font, "I", 9)
		pdf.MultiCell(0, 5, tr(p.Notes), "", "L", false)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRenderFailure, err)
	}
	return buf.Bytes(), nil
}

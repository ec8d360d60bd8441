package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	defaultCurrency = "USD"

	// MaxScale is the number of decimal places an amount may carry
	MaxScale = 4
	// MaxIntegerDigits bounds amounts below 10^12
	MaxIntegerDigits = 12
)

var (
	ten            = big.NewInt(10)
	maxCoefficient = new(big.Int).Exp(ten, big.NewInt(MaxIntegerDigits+MaxScale), nil)
)

var totalTolerance = decimal.NewFromFloat(0.01)

// LineItem is one row of an invoice
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// InvoicePayload is the immutable content a job renders
type InvoicePayload struct {
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	ClientName    string          `json:"client_name"`
	ClientEmail   string          `json:"client_email,omitempty"`
	ClientAddress string          `json:"client_address,omitempty"`
	IssueDate     string          `json:"issue_date,omitempty"`
	DueDate       string          `json:"due_date,omitempty"`
	Currency      string          `json:"currency"`
	Notes         string          `json:"notes,omitempty"`
	LineItems     []LineItem      `json:"line_items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
}

// Normalize recomputes line amounts and totals from quantities and rates.
// The client-supplied total is returned so Validate can compare it.
func (p *InvoicePayload) Normalize() (suppliedTotal decimal.Decimal) {
	suppliedTotal = p.Total

	p.ClientName = strings.TrimSpace(p.ClientName)
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if p.Currency == "" {
		p.Currency = defaultCurrency
	}

	subtotal := decimal.Zero
	for i := range p.LineItems {
		item := &p.LineItems[i]
		item.Description = strings.TrimSpace(item.Description)
		item.Amount = item.Quantity.Mul(item.Rate).Round(2)
		subtotal = subtotal.Add(item.Amount)
	}

	p.Subtotal = subtotal
	p.Tax = p.Tax.Round(2)
	p.Total = subtotal.Add(p.Tax)
	return suppliedTotal
}

// Validate checks a normalized payload. suppliedTotal is compared against the
// recomputed total only when non-zero.
func (p *InvoicePayload) Validate(suppliedTotal decimal.Decimal) error {
	if p.ClientName == "" {
		return fmt.Errorf("%w: client_name is required", ErrInvalidPayload)
	}
	if len(p.LineItems) == 0 {
		return fmt.Errorf("%w: at least one line item is required", ErrInvalidPayload)
	}
	for i, item := range p.LineItems {
		if item.Description == "" {
			return fmt.Errorf("%w: line_items[%d].description is required", ErrInvalidPayload, i)
		}
		if !item.Quantity.IsPositive() {
			return fmt.Errorf("%w: line_items[%d].quantity must be positive", ErrInvalidPayload, i)
		}
		if item.Rate.IsNegative() {
			return fmt.Errorf("%w: line_items[%d].rate must not be negative", ErrInvalidPayload, i)
		}
	}
	if p.Tax.IsNegative() {
		return fmt.Errorf("%w: tax must not be negative", ErrInvalidPayload)
	}
	if !suppliedTotal.IsZero() && suppliedTotal.Sub(p.Total).Abs().GreaterThan(totalTolerance) {
		return fmt.Errorf("%w: total %s does not match computed total %s",
			ErrInvalidPayload, suppliedTotal.StringFixed(2), p.Total.StringFixed(2))
	}
	return nil
}

// CheckBounds rejects amounts too large or too precise to compute with.
// It inspects coefficient and exponent only, so it never expands the value.
func (p *InvoicePayload) CheckBounds() error {
	for i, item := range p.LineItems {
		if err := checkAmount(fmt.Sprintf("line_items[%d].quantity", i), item.Quantity); err != nil {
			return err
		}
		if err := checkAmount(fmt.Sprintf("line_items[%d].rate", i), item.Rate); err != nil {
			return err
		}
	}
	if err := checkAmount("tax", p.Tax); err != nil {
		return err
	}
	return checkAmount("total", p.Total)
}

func checkAmount(field string, d decimal.Decimal) error {
	coef := new(big.Int).Abs(d.Coefficient())
	if coef.Sign() == 0 {
		return nil
	}
	exp := int64(d.Exponent())

	// drop trailing zeros so 1.50000 counts as 1.5
	if coef.BitLen() <= maxCoefficient.BitLen() {
		q, m := new(big.Int), new(big.Int)
		for exp < 0 {
			q.QuoRem(coef, ten, m)
			if m.Sign() != 0 {
				break
			}
			coef.Set(q)
			exp++
		}
	}

	if exp < -MaxScale {
		return fmt.Errorf("%w: %s allows at most %d decimal places", ErrInvalidPayload, field, MaxScale)
	}
	if coef.BitLen() > maxCoefficient.BitLen() || exp > MaxIntegerDigits ||
		int64(len(coef.String()))+exp > MaxIntegerDigits {
		return fmt.Errorf("%w: %s exceeds %d integer digits", ErrInvalidPayload, field, MaxIntegerDigits)
	}
	return nil
}

// Prepare bounds, normalizes and validates in one step
func (p *InvoicePayload) Prepare() error {
	if err := p.CheckBounds(); err != nil {
		return err
	}
	supplied := p.Normalize()
	return p.Validate(supplied)
}

// Marshal encodes the payload for storage
func (p InvoicePayload) Marshal() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(b), nil
}

// UnmarshalInvoicePayload decodes a stored payload
func UnmarshalInvoicePayload(raw string) (InvoicePayload, error) {
	var p InvoicePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}

// DisplayNumber is the invoice number, or a number derived from the job id
func (p *InvoicePayload) DisplayNumber(jobID string) string {
	if p.InvoiceNumber != "" {
		return p.InvoiceNumber
	}
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	return "INV-" + strings.ToUpper(short)
}

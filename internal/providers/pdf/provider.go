package pdf

import (
	"context"
	"errors"
)

var ErrRenderFailed = errors.New("pdf_render_failed")

// ReportData is the fully resolved content of one report document.
type ReportData struct {
	Title            string
	UserName         string
	OrganizationName string
	PeriodStart      string
	PeriodEnd        string
	Metrics          []Metric
	PlanID           string
	Status           string
	Addons           []string
	GeneratedOn      string
}

type Metric struct {
	Label string
	Value string
}

// Provider renders documents. Output depends only on the input data.
type Provider interface {
	RenderReport(ctx context.Context, data ReportData) ([]byte, error)
}

package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type MarotoProvider struct{}

func New() Provider {
	return &MarotoProvider{}
}

func (p *MarotoProvider) RenderReport(ctx context.Context, data ReportData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	title := data.Title
	if title == "" {
		title = "Weekly Report"
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(15,
		text.NewCol(12, title, props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Center,
		}),
	)

	m.AddRow(24,
		col.New(12).Add(
			text.New("User: "+data.UserName, props.Text{Size: 12, Top: 0}),
			text.New("Organization: "+data.OrganizationName, props.Text{Size: 12, Top: 7}),
			text.New(fmt.Sprintf("Period: %s to %s", data.PeriodStart, data.PeriodEnd), props.Text{Size: 12, Top: 14}),
		),
	)

	m.AddRow(12,
		text.NewCol(12, "Metrics", props.Text{Size: 16, Style: fontstyle.Bold, Top: 3}),
	)
	for _, metric := range data.Metrics {
		m.AddRow(7,
			text.NewCol(8, metric.Label, props.Text{Size: 11}),
			text.NewCol(4, metric.Value, props.Text{Size: 11, Align: align.Right}),
		)
	}

	addons := "None"
	if len(data.Addons) > 0 {
		addons = strings.Join(data.Addons, ", ")
	}
	m.AddRow(12,
		text.NewCol(12, "Subscription", props.Text{Size: 16, Style: fontstyle.Bold, Top: 3}),
	)
	m.AddRow(24,
		col.New(12).Add(
			text.New("Plan: "+data.PlanID, props.Text{Size: 12, Top: 0}),
			text.New("Status: "+data.Status, props.Text{Size: 12, Top: 7}),
			text.New("Add-ons: "+addons, props.Text{Size: 12, Top: 14}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, "Generated on "+data.GeneratedOn, props.Text{
			Size:  9,
			Style: fontstyle.Italic,
			Align: align.Center,
			Top:   8,
		}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return doc.GetBytes(), nil
}

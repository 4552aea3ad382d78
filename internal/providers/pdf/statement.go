package pdf

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var ErrEmptyStatement = errors.New("empty_statement")

// StatementData is a preview of what a billing account will be charged.
// Amounts are already formatted for display.
type StatementData struct {
	IssuerName   string
	AccountName  string
	TaxID        string
	Plan         string
	Period       string
	GeneratedAt  string
	Currency     string
	AnnualNotice string
	Lines        []StatementLine
	Subtotal     string
	Tax          string
	Total        string
}

type StatementLine struct {
	Description string
	Quantity    string
	UnitPrice   string
	Discount    string
	Amount      string
}

type MarotoRenderer struct{}

func (r *MarotoRenderer) RenderStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	if data.AccountName == "" {
		return nil, ErrEmptyStatement
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Pagina {current} de {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, "Estado de cuenta (vista previa)", props.Text{
			Size:  16,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.IssuerName, props.Text{
			Size:  10,
			Align: align.Right,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New(data.AccountName, props.Text{Style: fontstyle.Bold}),
			text.New("RFC: "+data.TaxID, props.Text{Top: 5}),
			text.New("Plan: "+data.Plan, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Periodo: "+data.Period, props.Text{Align: align.Right}),
			text.New("Generado: "+data.GeneratedAt, props.Text{Top: 5, Align: align.Right}),
			text.New("Moneda: "+data.Currency, props.Text{Top: 10, Align: align.Right}),
		),
	)

	if data.AnnualNotice != "" {
		m.AddRow(8, text.NewCol(12, data.AnnualNotice, props.Text{Size: 9, Style: fontstyle.Italic}))
	}

	m.AddRow(10,
		text.NewCol(4, "Concepto", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Cantidad", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Precio", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Descuento", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Importe", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range data.Lines {
		m.AddRow(8,
			text.NewCol(4, item.Description, props.Text{Size: 9}),
			text.NewCol(2, item.Quantity, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Discount, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(2, data.Subtotal, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "IVA", props.Text{Size: 9}),
		text.NewCol(2, data.Tax, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, data.Total, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

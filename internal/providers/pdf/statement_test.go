package pdf

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderStatementProducesPDF(t *testing.T) {
	reader, err := New().RenderStatement(context.Background(), StatementData{
		IssuerName:  "Supplyrail",
		AccountName: "Proveedora del Norte",
		TaxID:       "PNO010101AAA",
		Plan:        "pro_monthly",
		Period:      "2025-03",
		Currency:    "MXN",
		Lines: []StatementLine{
			{Description: "Suscripcion", Quantity: "2", UnitPrice: "2490.00", Discount: "0.00", Amount: "4980.00"},
		},
		Subtotal: "4980.00",
		Tax:      "796.80",
		Total:    "5776.80",
	})
	require.NoError(t, err)

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(content, []byte("%PDF")))
}

func TestRenderStatementRequiresAccount(t *testing.T) {
	_, err := New().RenderStatement(context.Background(), StatementData{})
	assert.ErrorIs(t, err, ErrEmptyStatement)
}

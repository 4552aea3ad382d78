package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
)

type Service interface {
	GetOrder(ctx context.Context, orderDetailsID snowflake.ID) (Order, error)
	// InvoiceOrder stamps the invoice of one order version. It is meant to
	// run inside an execution; failures are classified execution errors.
	InvoiceOrder(ctx context.Context, orderDetailsID string) (OrderInvoice, error)
	Trigger(ctx context.Context, orderDetailsID snowflake.ID) (execdomain.Execution, bool, error)
	GetByOrder(ctx context.Context, orderDetailsID string) (OrderInvoice, error)
}

// Subject is the execution subject of an order version.
func Subject(orderDetailsID snowflake.ID) string {
	return fmt.Sprintf("%s:%s", execdomain.SubjectOrder, orderDetailsID)
}

var (
	ErrInvalidID             = errors.New("invalid_id")
	ErrOrderNotFound         = errors.New("order_not_found")
	ErrRestaurantNotFound    = errors.New("restaurant_not_found")
	ErrIncompleteTaxIdentity = errors.New("incomplete_tax_identity")
	ErrAlreadyInvoiced       = errors.New("order_already_invoiced")
	ErrNothingToInvoice      = errors.New("nothing_to_invoice")
	ErrInvalidItem           = errors.New("invalid_order_item")
	ErrNotFound              = errors.New("not_found")
)

package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mpconfig "github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"go.uber.org/zap"
)

var ErrMissingAccessToken = errors.New("missing MERCADOPAGO_ACCESS_TOKEN")

type searcher interface {
	Search(ctx context.Context, request payment.SearchRequest) (*payment.SearchResponse, error)
}

// Reconciler reads approved bank transfers from the payments search API.
type Reconciler struct {
	client searcher
	log    *zap.Logger
}

func New(accessToken string, log *zap.Logger) (*Reconciler, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, ErrMissingAccessToken
	}
	cfg, err := mpconfig.New(accessToken)
	if err != nil {
		return nil, err
	}
	return newWithClient(payment.NewClient(cfg), log), nil
}

func newWithClient(client searcher, log *zap.Logger) *Reconciler {
	return &Reconciler{client: client, log: log.Named("mercadopago.reconciler")}
}

func (r *Reconciler) Name() string { return "mercadopago" }

// CountConfirmedTransfers returns the number of approved bank transfers
// collected by the account between from and to. Only the paging total is
// read, so one result per page is enough.
func (r *Reconciler) CountConfirmedTransfers(ctx context.Context, processorAccountID string, from, to time.Time) (int64, error) {
	processorAccountID = strings.TrimSpace(processorAccountID)
	if processorAccountID == "" {
		return 0, fmt.Errorf("mercadopago: missing collector id")
	}

	resp, err := r.client.Search(ctx, payment.SearchRequest{
		Limit:  1,
		Offset: 0,
		Filters: map[string]string{
			"collector.id":    processorAccountID,
			"status":          "approved",
			"payment_type_id": "bank_transfer",
			"range":           "date_approved",
			"begin_date":      from.UTC().Format(time.RFC3339),
			"end_date":        to.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		r.log.Warn("payment search failed",
			zap.String("collector_id", processorAccountID),
			zap.Error(err),
		)
		return 0, err
	}
	if resp == nil {
		return 0, nil
	}
	return int64(resp.Paging.Total), nil
}

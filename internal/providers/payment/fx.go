package payment

import (
	"github.com/smallbiznis/supplyrail/internal/config"
	"github.com/smallbiznis/supplyrail/internal/providers/payment/mercadopago"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.payment",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Reconciler {
	if !cfg.MercadoPago.Enabled {
		return Unavailable{}
	}
	rec, err := mercadopago.New(cfg.MercadoPago.AccessToken, log)
	if err != nil {
		log.Warn("payment reconciliation disabled", zap.Error(err))
		return Unavailable{}
	}
	return rec
}

package adapters

import (
	"github.com/smallbiznis/supplyrail/internal/config"
	"github.com/smallbiznis/supplyrail/internal/providers/invoicing"
	"github.com/smallbiznis/supplyrail/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.invoicing",
	ratelimit.Module,
	fx.Provide(DefaultRegistry),
	fx.Provide(NewGateway),
)

type GatewayParams struct {
	fx.In

	Cfg      config.Config
	Registry *Registry
	Log      *zap.Logger
	Limiter  *ratelimit.TokenBucket `optional:"true"`
}

// NewGateway builds the adapter named by INVOICING_PROVIDER. Production
// refuses to start on the sandbox adapter.
func NewGateway(p GatewayParams) (invoicing.Gateway, error) {
	cfg, registry, log := p.Cfg, p.Registry, p.Log

	provider := cfg.Invoicing.Provider
	if provider == "" {
		provider = "noop"
	}
	if provider == "noop" && cfg.IsProduction() {
		return nil, invoicing.ErrInvalidConfig
	}

	gateway, err := registry.NewGateway(provider, invoicing.Config{
		BaseURL:  cfg.Invoicing.BaseURL,
		Username: cfg.Invoicing.Username,
		Password: cfg.Invoicing.Password,
		Timeout:  cfg.Invoicing.Timeout,
	})
	if err != nil {
		return nil, err
	}
	log.Info("invoicing provider configured", zap.String("provider", gateway.Name()))
	if p.Limiter == nil {
		return gateway, nil
	}
	log.Info("invoicing provider throttled",
		zap.Float64("rate_per_second", cfg.Invoicing.RatePerSecond),
		zap.Int("burst", cfg.Invoicing.Burst),
	)
	return throttle(gateway, p.Limiter, cfg.Invoicing.RatePerSecond, cfg.Invoicing.Burst, log), nil
}

package billingaccount

import (
	"github.com/smallbiznis/supplyrail/internal/billingaccount/repository"
	"github.com/smallbiznis/supplyrail/internal/billingaccount/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingaccount.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

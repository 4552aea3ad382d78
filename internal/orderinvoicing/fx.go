package orderinvoicing

import (
	"github.com/smallbiznis/supplyrail/internal/orderinvoicing/repository"
	"github.com/smallbiznis/supplyrail/internal/orderinvoicing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("orderinvoicing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

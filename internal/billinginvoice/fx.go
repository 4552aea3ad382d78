package billinginvoice

import (
	"github.com/smallbiznis/supplyrail/internal/billinginvoice/repository"
	"github.com/smallbiznis/supplyrail/internal/billinginvoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billinginvoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

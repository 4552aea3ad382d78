package dispatcher

import (
	"github.com/smallbiznis/supplyrail/internal/dispatcher/repository"
	"github.com/smallbiznis/supplyrail/internal/dispatcher/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dispatcher.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(RegisterConsumer),
)

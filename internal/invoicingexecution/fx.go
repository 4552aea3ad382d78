package invoicingexecution

import (
	"github.com/smallbiznis/supplyrail/internal/invoicingexecution/lock"
	"github.com/smallbiznis/supplyrail/internal/invoicingexecution/repository"
	"github.com/smallbiznis/supplyrail/internal/invoicingexecution/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoicingexecution.service",
	lock.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.NewNotifier),
	fx.Provide(service.New),
)

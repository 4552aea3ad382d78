package providers

import (
	"github.com/smallbiznis/supplyrail/internal/providers/email"
	"github.com/smallbiznis/supplyrail/internal/providers/invoicing/adapters"
	"github.com/smallbiznis/supplyrail/internal/providers/payment"
	"github.com/smallbiznis/supplyrail/internal/providers/pdf"
	"github.com/smallbiznis/supplyrail/internal/providers/storage"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	payment.Module,
	pdf.Module,
	storage.Module,
	adapters.Module,
)

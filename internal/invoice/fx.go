package invoice

import (
	"github.com/smallbiznis/invoicedesk/internal/invoice/delivery"
	"github.com/smallbiznis/invoicedesk/internal/invoice/repository"
	"github.com/smallbiznis/invoicedesk/internal/invoice/service"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(delivery.NewBuilder),
	fx.Provide(func(d *mailer.Dispatcher) delivery.Sender { return d }),
	fx.Provide(service.New),
)

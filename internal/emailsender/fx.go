package emailsender

import (
	"github.com/smallbiznis/invoicedesk/internal/cache"
	"github.com/smallbiznis/invoicedesk/internal/emailsender/domain"
	"github.com/smallbiznis/invoicedesk/internal/emailsender/service"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
	"go.uber.org/fx"
)

var Module = fx.Module("emailsender.service",
	fx.Provide(cache.ProvideSenderCache),
	fx.Provide(service.New),
	fx.Provide(func(svc domain.Service) mailer.SenderRegistry { return svc }),
)

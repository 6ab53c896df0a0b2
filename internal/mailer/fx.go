package mailer

import "go.uber.org/fx"

var Module = fx.Module("mailer",
	fx.Provide(func(s *SMTPMailer) Mailer { return s }),
	fx.Provide(NewSMTPMailer),
)

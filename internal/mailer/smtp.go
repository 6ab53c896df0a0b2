package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/GaitanS/Bricli-sub000/internal/config"
	"github.com/GaitanS/Bricli-sub000/internal/observability"
)

// SMTPMailer sends Romanian-language transactional mail over SMTP.
type SMTPMailer struct {
	cfg     config.SMTPConfig
	dialer  *gomail.Dialer
	log     *zap.Logger
	metrics *observability.Metrics
}

func NewSMTPMailer(cfg config.Config, log *zap.Logger, metrics *observability.Metrics) *SMTPMailer {
	return &SMTPMailer{
		cfg:     cfg.SMTP,
		dialer:  gomail.NewDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password),
		log:     log.Named("mailer"),
		metrics: metrics,
	}
}

var _ Mailer = (*SMTPMailer)(nil)

const dateLayout = "02.01.2006"

func formatAmount(amount int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(amount)/100, currency)
}

func (m *SMTPMailer) SendUpgradeConfirmation(ctx context.Context, to, name, tier string, amount int64, currency string) error {
	subject := "Abonamentul tău Bricli este activ"
	htmlBody := fmt.Sprintf(`
		<html>
		<body>
			<h2>Salut, %s!</h2>
			<p>Abonamentul tău <strong>%s</strong> este acum activ.</p>
			<p>Suma facturată: <strong>%s</strong> pe lună.</p>
			<p>Factura fiscală îți va fi trimisă separat, pe email.</p>
			<p>Îți mulțumim că folosești Bricli!</p>
		</body>
		</html>
	`, name, tier, formatAmount(amount, currency))
	plainBody := fmt.Sprintf(`
Salut, %s!

Abonamentul tău %s este acum activ.
Suma facturată: %s pe lună.

Factura fiscală îți va fi trimisă separat, pe email.

Îți mulțumim că folosești Bricli!
	`, name, tier, formatAmount(amount, currency))

	return m.send(ctx, "upgrade_confirmation", to, subject, htmlBody, plainBody, nil, "")
}

func (m *SMTPMailer) SendPaymentFailed(ctx context.Context, to, name string, graceEnd time.Time, reminder bool) error {
	template := "payment_failed"
	subject := "Plata abonamentului Bricli a eșuat"
	if reminder {
		template = "payment_failed_reminder"
		subject = "Reamintire: actualizează metoda de plată Bricli"
	}

	htmlBody := fmt.Sprintf(`
		<html>
		<body>
			<h2>Salut, %s!</h2>
			<p>Nu am putut procesa plata abonamentului tău Bricli.</p>
			<p>Beneficiile abonamentului rămân active până pe <strong>%s</strong>.
			Te rugăm să actualizezi metoda de plată până atunci, altfel contul
			va trece pe planul gratuit.</p>
		</body>
		</html>
	`, name, graceEnd.Format(dateLayout))
	plainBody := fmt.Sprintf(`
Salut, %s!

Nu am putut procesa plata abonamentului tău Bricli.

Beneficiile abonamentului rămân active până pe %s. Te rugăm să actualizezi
metoda de plată până atunci, altfel contul va trece pe planul gratuit.
	`, name, graceEnd.Format(dateLayout))

	return m.send(ctx, template, to, subject, htmlBody, plainBody, nil, "")
}

func (m *SMTPMailer) SendCancellation(ctx context.Context, to, name string, effectiveAt time.Time) error {
	subject := "Abonamentul tău Bricli a fost anulat"
	htmlBody := fmt.Sprintf(`
		<html>
		<body>
			<h2>Salut, %s!</h2>
			<p>Ți-am înregistrat cererea de anulare a abonamentului.</p>
			<p>Beneficiile rămân active până pe <strong>%s</strong>, după care
			contul trece pe planul gratuit.</p>
			<p>Ne pare rău să te vedem plecând. Te poți reabona oricând.</p>
		</body>
		</html>
	`, name, effectiveAt.Format(dateLayout))
	plainBody := fmt.Sprintf(`
Salut, %s!

Ți-am înregistrat cererea de anulare a abonamentului.

Beneficiile rămân active până pe %s, după care contul trece pe planul
gratuit. Te poți reabona oricând.
	`, name, effectiveAt.Format(dateLayout))

	return m.send(ctx, "cancellation", to, subject, htmlBody, plainBody, nil, "")
}

func (m *SMTPMailer) SendNearLimit(ctx context.Context, to, name string, used, limit int) error {
	subject := "Te apropii de limita lunară de clienți pe Bricli"
	htmlBody := fmt.Sprintf(`
		<html>
		<body>
			<h2>Salut, %s!</h2>
			<p>Ai folosit <strong>%d din %d</strong> contacte de clienți incluse
			în planul tău luna aceasta.</p>
			<p>Treci la un plan superior pentru contacte nelimitate.</p>
		</body>
		</html>
	`, name, used, limit)
	plainBody := fmt.Sprintf(`
Salut, %s!

Ai folosit %d din %d contacte de clienți incluse în planul tău luna aceasta.

Treci la un plan superior pentru contacte nelimitate.
	`, name, used, limit)

	return m.send(ctx, "near_limit", to, subject, htmlBody, plainBody, nil, "")
}

func (m *SMTPMailer) SendLimitReached(ctx context.Context, to, name string, periodEnd time.Time) error {
	subject := "Ai atins limita lunară de clienți pe Bricli"
	htmlBody := fmt.Sprintf(`
		<html>
		<body>
			<h2>Salut, %s!</h2>
			<p>Ai atins limita lunară de contacte de clienți a planului tău.</p>
			<p>Limita se resetează pe <strong>%s</strong>. Până atunci, poți
			trece la un plan superior pentru contacte nelimitate.</p>
		</body>
		</html>
	`, name, periodEnd.Format(dateLayout))
	plainBody := fmt.Sprintf(`
Salut, %s!

Ai atins limita lunară de contacte de clienți a planului tău.

Limita se resetează pe %s. Până atunci, poți trece la un plan superior
pentru contacte nelimitate.
	`, name, periodEnd.Format(dateLayout))

	return m.send(ctx, "limit_reached", to, subject, htmlBody, plainBody, nil, "")
}

func (m *SMTPMailer) SendInvoice(ctx context.Context, to, name, invoiceNumber string, total int64, currency string, pdf []byte) error {
	subject := fmt.Sprintf("Factura Bricli %s", invoiceNumber)
	htmlBody := fmt.Sprintf(`
		<html>
		<body>
			<h2>Salut, %s!</h2>
			<p>Îți trimitem atașat factura fiscală <strong>%s</strong> în valoare
			de <strong>%s</strong> (TVA inclus).</p>
		</body>
		</html>
	`, name, invoiceNumber, formatAmount(total, currency))
	plainBody := fmt.Sprintf(`
Salut, %s!

Îți trimitem atașat factura fiscală %s în valoare de %s (TVA inclus).
	`, name, invoiceNumber, formatAmount(total, currency))

	attachmentName := fmt.Sprintf("factura-%s.pdf", invoiceNumber)
	return m.send(ctx, "invoice", to, subject, htmlBody, plainBody, pdf, attachmentName)
}

func (m *SMTPMailer) SendRefundConfirmation(ctx context.Context, to, name string, amount int64, currency string) error {
	subject := "Rambursarea Bricli a fost procesată"
	htmlBody := fmt.Sprintf(`
		<html>
		<body>
			<h2>Salut, %s!</h2>
			<p>Ți-am procesat rambursarea integrală de <strong>%s</strong>.</p>
			<p>Suma va apărea în contul tău în 5-10 zile lucrătoare, în funcție
			de bancă.</p>
		</body>
		</html>
	`, name, formatAmount(amount, currency))
	plainBody := fmt.Sprintf(`
Salut, %s!

Ți-am procesat rambursarea integrală de %s.

Suma va apărea în contul tău în 5-10 zile lucrătoare, în funcție de bancă.
	`, name, formatAmount(amount, currency))

	return m.send(ctx, "refund_confirmation", to, subject, htmlBody, plainBody, nil, "")
}

func (m *SMTPMailer) SendOperatorAlert(ctx context.Context, subject, body string) error {
	htmlBody := fmt.Sprintf("<html><body><pre>%s</pre></body></html>", body)
	return m.send(ctx, "operator_alert", m.cfg.OperatorAddress, "[Bricli] "+subject, htmlBody, body, nil, "")
}

func (m *SMTPMailer) send(ctx context.Context, template, to, subject, htmlBody, plainBody string, attachment []byte, attachmentName string) error {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.cfg.FromAddress, m.cfg.FromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", plainBody)
	msg.AddAlternative("text/html", htmlBody)

	if len(attachment) > 0 {
		msg.Attach(attachmentName, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := io.Copy(w, bytes.NewReader(attachment))
			return err
		}))
	}

	if err := m.dialer.DialAndSend(msg); err != nil {
		m.log.Error("send email",
			zap.String("template", template),
			zap.String("to", to),
			zap.Error(err))
		return fmt.Errorf("send email %s: %w", template, err)
	}

	m.metrics.EmailsSent.WithLabelValues(template).Inc()
	m.log.Info("email sent", zap.String("template", template), zap.String("to", to))
	return nil
}

package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the domain counters exposed on /metrics.
type Metrics struct {
	WebhookEvents  *prometheus.CounterVec
	QuotaDenials   *prometheus.CounterVec
	InvoicesIssued prometheus.Counter
	InvoiceRetries prometheus.Counter
	EmailsSent     *prometheus.CounterVec
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bricli_webhook_events_total",
			Help: "Billing webhook events by type and result.",
		}, []string{"type", "result"}),
		QuotaDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bricli_quota_denials_total",
			Help: "Lead quota denials by reason.",
		}, []string{"reason"}),
		InvoicesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bricli_invoices_issued_total",
			Help: "Fiscal invoices issued.",
		}),
		InvoiceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bricli_invoice_retries_total",
			Help: "Fiscal invoice generation retries.",
		}),
		EmailsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bricli_emails_sent_total",
			Help: "Transactional emails sent by template.",
		}, []string{"template"}),
	}
	reg.MustRegister(m.WebhookEvents, m.QuotaDenials, m.InvoicesIssued, m.InvoiceRetries, m.EmailsSent)
	return m
}

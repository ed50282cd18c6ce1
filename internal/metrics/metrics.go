package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	// EntryOutcome counts terminal (and released) outcomes of worker runs.
	EntryOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_entry_outcome_total",
			Help: "Queue entries processed by the dispatch worker, by outcome",
		},
		[]string{"outcome"},
	)

	RecipientSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_whatsapp_recipient_sends_total",
			Help: "WhatsApp sends per recipient, by result",
		},
		[]string{"result"},
	)

	InstagramPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_instagram_publish_duration_seconds",
			Help:    "Duration of the container, poll and publish sequence",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 300},
		},
		[]string{"result"},
	)

	TokenRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_token_refresh_total",
			Help: "Channel token refresh attempts",
		},
		[]string{"platform", "result"},
	)
)

func Init() {
	prometheus.MustRegister(RequestCount, EntryOutcome, RecipientSends, InstagramPublishDuration, TokenRefresh)
}

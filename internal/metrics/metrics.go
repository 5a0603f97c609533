// Package metrics holds the Prometheus collectors of the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IdentityLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iwbot_identity_lookups_total",
			Help: "Identity cache lookups, labeled by where the answer came from.",
		},
		[]string{"source"},
	)
	IdentityFetchErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iwbot_identity_fetch_errors_total",
			Help: "Live identity lookups that failed.",
		},
	)
	Outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iwbot_marker_outcomes_total",
			Help: "Resolved marker occurrences, labeled by outcome.",
		},
		[]string{"outcome"},
	)
	PagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iwbot_pages_processed_total",
			Help: "Pages handled by the backlog driver, labeled by pass and result.",
		},
		[]string{"pass", "result"},
	)
	BacklogSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iwbot_backlog_size",
			Help: "Number of titles in the current backlog.",
		},
		[]string{"pass"},
	)
	BacklogCursor = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iwbot_backlog_cursor",
			Help: "Index of the next backlog title to process.",
		},
		[]string{"pass"},
	)
	ProblemPages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iwbot_problem_pages",
			Help: "Pages currently listed in the problem ledger.",
		},
	)
)

func init() {
	prometheus.MustRegister(IdentityLookups)
	prometheus.MustRegister(IdentityFetchErrors)
	prometheus.MustRegister(Outcomes)
	prometheus.MustRegister(PagesProcessed)
	prometheus.MustRegister(BacklogSize)
	prometheus.MustRegister(BacklogCursor)
	prometheus.MustRegister(ProblemPages)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

package telegram

import (
	"tally/pkg/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telegram bot metrics
var (
	commandsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_commands_processed_total",
			Help: "Total number of processed commands by type",
		},
		[]string{"command"}, // start, help, record, settings, cancel
	)

	messagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_messages_processed_total",
			Help: "Total number of processed messages by type",
		},
		[]string{"type"}, // text
	)

	buttonsPressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_buttons_pressed_total",
			Help: "Total number of button presses by token",
		},
		[]string{"button"},
	)

	flushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_flushes_total",
			Help: "Total number of scheduled flushes by outcome",
		},
		[]string{"status"}, // ok, empty, error
	)

	recordsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telegram_records_created_total",
			Help: "Total number of records queued from free text",
		},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"type"}, // user_registration, user_not_found, extract, database, send_message
	)
)

// RestoreMetrics re-applies counter values captured before a restart, so
// dashboards over these counters do not reset to zero.
func RestoreMetrics(s *services.MetricsSnapshot) {
	if s == nil {
		return
	}

	for label, v := range s.CommandsProcessed {
		commandsProcessed.WithLabelValues(label).Add(v)
	}
	for label, v := range s.MessagesProcessed {
		messagesProcessed.WithLabelValues(label).Add(v)
	}
	for label, v := range s.ButtonsPressed {
		buttonsPressed.WithLabelValues(label).Add(v)
	}
	for label, v := range s.FlushesTotal {
		flushesTotal.WithLabelValues(label).Add(v)
	}
	for label, v := range s.ErrorsTotal {
		errorsTotal.WithLabelValues(label).Add(v)
	}
}

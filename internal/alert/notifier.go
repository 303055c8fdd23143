package alert

import (
	"context"
	"log/slog"
)

// LogNotifier writes notifications to a logger. It stands in for a chat
// notifier when none is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Send(_ context.Context, n Notification) error {
	l.Logger.Warn("alert",
		"level", n.Level,
		"rule", n.Rule,
		"metric", n.Metric,
		"label", n.Label,
		"value", n.Value,
		"message", n.Message,
	)
	return nil
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/web3-frozen/overlay-monitor/internal/alert"
)

// NotificationLister reads the notification log.
type NotificationLister interface {
	ListNotifications(ctx context.Context, limit int) ([]alert.Notification, error)
}

type notificationView struct {
	Level     alert.Level `json:"level"`
	Rule      string      `json:"rule"`
	Condition string      `json:"condition"`
	Metric    string      `json:"metric"`
	Label     string      `json:"label"`
	Value     *float64    `json:"value"`
	Message   string      `json:"message"`
	At        time.Time   `json:"at"`
}

func ListNotifications(s NotificationLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s == nil {
			http.Error(w, `{"error":"notification log not configured"}`, http.StatusNotFound)
			return
		}

		logs, err := s.ListNotifications(r.Context(), limitParam(r, 50, 100))
		if err != nil {
			http.Error(w, `{"error":"failed to list notifications"}`, http.StatusInternalServerError)
			return
		}

		out := make([]notificationView, 0, len(logs))
		for _, n := range logs {
			out = append(out, notificationView{
				Level:     n.Level,
				Rule:      n.Rule,
				Condition: n.Condition,
				Metric:    n.Metric,
				Label:     n.Label,
				Value:     jsonFloat(n.Value),
				Message:   n.Message,
				At:        n.At,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

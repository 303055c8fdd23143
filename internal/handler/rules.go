package handler

import (
	"net/http"

	"github.com/web3-frozen/overlay-monitor/internal/alert"
)

// RuleLister exposes the active alert rules.
type RuleLister interface {
	Rules() []alert.Rule
}

type ruleView struct {
	Level     alert.Level `json:"level"`
	Name      string      `json:"name"`
	Metric    string      `json:"metric"`
	Condition string      `json:"condition"`
	Message   string      `json:"message"`
}

func ListRules(e RuleLister) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rules := e.Rules()
		out := make([]ruleView, 0, len(rules))
		for _, r := range rules {
			out = append(out, ruleView{
				Level:     r.Level,
				Name:      r.Name,
				Metric:    r.Metric,
				Condition: r.Condition.String(),
				Message:   r.Message,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoCondition means a rule was built without a condition.
var ErrNoCondition = errors.New("rule has no condition")

// Level is the severity of a rule.
type Level string

const (
	Green  Level = "green"
	Orange Level = "orange"
	Red    Level = "red"
)

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case Green, Orange, Red:
		return l, nil
	}
	return "", fmt.Errorf("unknown alert level %q", s)
}

// Rule is an immutable alert rule bound to one metric.
type Rule struct {
	Level     Level
	Name      string
	Metric    string
	Condition Condition
	Message   string
}

// NewRule validates and builds a rule.
func NewRule(level Level, name, metric string, cond Condition, message string) (Rule, error) {
	if cond == nil {
		return Rule{}, fmt.Errorf("rule %q: %w", name, ErrNoCondition)
	}
	if _, err := ParseLevel(string(level)); err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", name, err)
	}
	if name == "" || metric == "" {
		return Rule{}, fmt.Errorf("rule %q: name and metric are required", name)
	}
	return Rule{Level: level, Name: name, Metric: metric, Condition: cond, Message: message}, nil
}

// Notification is a tripped rule, or a poller failure summary, ready for delivery.
type Notification struct {
	Level     Level     `json:"level"`
	Rule      string    `json:"rule"`
	Condition string    `json:"condition"`
	Metric    string    `json:"metric"`
	Label     string    `json:"label"`
	Value     float64   `json:"value"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// DefaultRules are the built-in rules, active unless a rules file replaces them.
func DefaultRules() []Rule {
	return []Rule{
		{
			Level:     Orange,
			Name:      "upnl_drawdown",
			Metric:    "upnl_pct",
			Condition: MustFormula("upnl_pct < -0.25"),
			Message:   "Open positions are down more than 25% of remaining collateral",
		},
		{
			Level:     Red,
			Name:      "upnl_collapse",
			Metric:    "upnl_pct",
			Condition: MustFormula("upnl_pct < -0.5"),
			Message:   "Open positions are down more than 50% of remaining collateral",
		},
		{
			Level:     Red,
			Name:      "ovl_net_burn",
			Metric:    "ovl_token_minted",
			Condition: MustFormula("ovl_token_minted < -100000"),
			Message:   "Net OVL burned by positions exceeds 100k",
		},
	}
}

package alert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Level   string `yaml:"level"`
	Name    string `yaml:"name"`
	Metric  string `yaml:"metric"`
	Formula string `yaml:"formula"`
	Message string `yaml:"message"`
}

// LoadRules reads formula rules from a YAML file:
//
//	rules:
//	  - level: red
//	    name: upnl_collapse
//	    metric: upnl_pct
//	    formula: upnl_pct < -0.5
//	    message: positions are underwater
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses the YAML rules format.
func ParseRules(data []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, entry := range f.Rules {
		level, err := ParseLevel(entry.Level)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		var cond Condition
		if entry.Formula != "" {
			if cond, err = Formula(entry.Formula); err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
		}
		r, err := NewRule(level, entry.Name, entry.Metric, cond, entry.Message)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

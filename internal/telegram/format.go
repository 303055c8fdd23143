package telegram

import (
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/web3-frozen/overlay-monitor/internal/alert"
)

// FormatNotification renders a notification as Telegram HTML.
func FormatNotification(n alert.Notification) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>%s</b> %s\n", levelIcon(n.Level), strings.ToUpper(string(n.Level)), html.EscapeString(n.Rule))

	if !strings.Contains(n.Metric, ",") && n.Metric != "" {
		fmt.Fprintf(&sb, "%s [%s] = <code>%s</code>\n",
			html.EscapeString(n.Metric), html.EscapeString(n.Label), formatValue(n.Metric, n.Value))
	}
	if n.Condition != "" {
		fmt.Fprintf(&sb, "Condition: <code>%s</code>\n", html.EscapeString(n.Condition))
	}
	if n.Message != "" {
		sb.WriteString("\n")
		sb.WriteString(html.EscapeString(n.Message))
		sb.WriteString("\n")
	}
	if !n.At.IsZero() {
		fmt.Fprintf(&sb, "\n🕐 %s", n.At.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	return sb.String()
}

func levelIcon(l alert.Level) string {
	switch l {
	case alert.Green:
		return "🟢"
	case alert.Orange:
		return "🟠"
	case alert.Red:
		return "🔴"
	}
	return "⚪"
}

// formatValue renders percentages for *_pct metrics and OVL amounts otherwise.
func formatValue(metric string, v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	if strings.HasSuffix(metric, "_pct") {
		return fmt.Sprintf("%.2f%%", v*100)
	}
	return formatNum(v)
}

func formatNum(v float64) string {
	if v < 0 {
		return "-" + formatNum(-v)
	}
	if v >= 1_000_000 {
		return fmt.Sprintf("%.2fM", v/1_000_000)
	}
	if v >= 1_000 {
		return addCommas(fmt.Sprintf("%.2f", math.Round(v*100)/100))
	}
	return fmt.Sprintf("%.4f", v)
}

func addCommas(s string) string {
	intPart, frac, hasFrac := strings.Cut(s, ".")
	n := len(intPart)
	if n > 3 {
		var result []byte
		for i := 0; i < n; i++ {
			if i > 0 && (n-i)%3 == 0 {
				result = append(result, ',')
			}
			result = append(result, intPart[i])
		}
		intPart = string(result)
	}
	if hasFrac {
		return intPart + "." + frac
	}
	return intPart
}

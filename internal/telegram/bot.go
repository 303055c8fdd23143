package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/web3-frozen/overlay-monitor/internal/alert"
	"github.com/web3-frozen/overlay-monitor/internal/event"
	"github.com/web3-frozen/overlay-monitor/internal/monitor"
)

const telegramAPI = "https://api.telegram.org/bot"

// MetricReader is the read side of the metric store used by /status.
type MetricReader interface {
	Metrics() []string
	Get(metric, label string) float64
}

// PollerLister reports poller health for /status.
type PollerLister interface {
	Statuses() []monitor.PollerStatus
}

// Bot delivers alert notifications to one chat and answers /status and
// /help there.
type Bot struct {
	token   string
	chatID  int64
	apiBase string
	metrics MetricReader
	pollers PollerLister
	logger  *slog.Logger
	client  *http.Client
	offset  int64
}

func NewBot(token string, chatID int64, logger *slog.Logger) *Bot {
	return &Bot{
		token:   token,
		chatID:  chatID,
		apiBase: telegramAPI,
		logger:  logger.With("component", "telegram"),
		client:  &http.Client{Timeout: 40 * time.Second},
	}
}

// WithStatus wires the sources read by /status.
func (b *Bot) WithStatus(metrics MetricReader, pollers PollerLister) *Bot {
	b.metrics = metrics
	b.pollers = pollers
	return b
}

// Send delivers a notification to the configured chat.
func (b *Bot) Send(ctx context.Context, n alert.Notification) error {
	return b.SendMessage(ctx, b.chatID, FormatNotification(n))
}

// SendMessage sends a text message to a Telegram chat.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiBase+b.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("telegram API error %d: %s", resp.StatusCode, errResp.Description)
	}
	return nil
}

// Run starts the long-polling loop for incoming Telegram messages.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("telegram bot started", "chat_id", b.chatID)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			b.poll(ctx)
		}
	}
}

func (b *Bot) poll(ctx context.Context) {
	url := fmt.Sprintf("%s%s/getUpdates?offset=%d&timeout=30", b.apiBase, b.token, b.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		b.logger.Error("create poll request", "error", err)
		return
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("poll updates", "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		return
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool `json:"ok"`
		Result []struct {
			UpdateID int64 `json:"update_id"`
			Message  *struct {
				Chat struct {
					ID int64 `json:"id"`
				} `json:"chat"`
				Text string `json:"text"`
			} `json:"message"`
		} `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		b.logger.Error("decode updates", "error", err)
		return
	}

	for _, u := range result.Result {
		b.offset = u.UpdateID + 1
		if u.Message == nil {
			continue
		}
		b.handle(ctx, u.Message.Chat.ID, u.Message.Text)
	}
}

// handle answers commands from the configured chat only; other chats get no
// reply, since /status exposes protocol totals and poller health.
func (b *Bot) handle(ctx context.Context, chatID int64, text string) {
	if chatID != b.chatID {
		b.logger.Debug("ignoring message from foreign chat", "chat_id", chatID)
		return
	}
	// commands may carry a bot suffix in groups: /status@overlay_bot
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), "@")

	var reply string
	switch cmd {
	case "/help", "/start":
		reply = helpText
	case "/status":
		reply = b.statusText()
	default:
		if !strings.HasPrefix(cmd, "/") {
			return
		}
		reply = "Unknown command. Send /help for available commands."
	}
	if err := b.SendMessage(ctx, chatID, reply); err != nil {
		b.logger.Error("reply failed", "command", cmd, "error", err)
	}
}

const helpText = "🤖 <b>Overlay Monitor Bot</b>\n\n" +
	"Commands:\n" +
	"/status: current protocol totals and poller health\n" +
	"/help: show this message\n\n" +
	"Alerts are posted here as rules trip."

func (b *Bot) statusText() string {
	var sb strings.Builder
	sb.WriteString("📊 <b>Overlay protocol</b>\n")
	if b.metrics != nil {
		for _, m := range b.metrics.Metrics() {
			v := b.metrics.Get(m, event.AllMarketsLabel)
			fmt.Fprintf(&sb, "• %s: <code>%s</code>\n", html.EscapeString(m), formatValue(m, v))
		}
	}
	if b.pollers != nil {
		sb.WriteString("\n⚙️ <b>Pollers</b>\n")
		for _, s := range b.pollers.Statuses() {
			fmt.Fprintf(&sb, "%s %s: %s", stateIcon(s.State), html.EscapeString(s.Name), s.State)
			if !s.LastSuccess.IsZero() {
				fmt.Fprintf(&sb, " (last ok %s ago)", time.Since(s.LastSuccess).Truncate(time.Second))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func stateIcon(s monitor.State) string {
	switch s {
	case monitor.StateRunning:
		return "🟢"
	case monitor.StateDegraded:
		return "🔴"
	}
	return "⚪"
}

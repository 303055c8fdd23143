package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	infisical "github.com/infisical/go-sdk"
)

const (
	defaultIndexerURL = "https://api.studio.thegraph.com/proxy/49419/overlay-contracts/v0.0.7"
	apiKeyPlaceholder = "{api_key}"
)

// DefaultMarkets are the markets aggregated when MARKETS is unset.
var DefaultMarkets = map[string]string{
	"0x02e5938904014901c96f534b063ec732ea3b48d5": "LINK / USD",
	"0x1067b7df86552a53d816ce3fed50d6d01310b48f": "SOL / USD",
	"0x33659282d39e62b62060c3f9fb2230e97db15f1e": "APE / USD",
	"0x7c65c99ba1edfc94c535b7aa2d72b0f7357a676b": "Crypto Volatility Index",
	"0x833ba1a942dc6d33bc3e6959637ae00e0cdcb20b": "AVAX / USD",
	"0xa811698d855153cc7472d1fb356149a94bd618e7": "MATIC / USD",
	"0xc28350047d006ed387b0f210d4ea3218137a8a38": "WBTC / USD",
}

type Config struct {
	Port           string
	LogLevel       string
	DatabaseURL    string
	TelegramToken  string
	TelegramChatID int64
	FrontendOrigin string
	RedisURL       string
	RedisPassword  string

	// Sources
	IndexerURL     string
	SubgraphAPIKey string
	RPCURL         string
	StateContract  string
	Markets        map[string]string
	AmountDecimals int32

	// Polling
	PollInterval  time.Duration
	RecoveryDelay time.Duration
	PageSize      int

	// Value resolution
	BatchSize      int
	RetryAttempts  int
	RetryDelay     time.Duration
	BatchPause     time.Duration
	ResolveTimeout time.Duration

	// Alerts
	AlertRulesFile        string
	AlertCooldown         time.Duration
	NotificationRetention time.Duration
}

func Load() Config {
	cfg := Config{
		Port:           envOr("PORT", "8080"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: envInt64("TELEGRAM_CHAT_ID", 0),
		FrontendOrigin: envOr("FRONTEND_ORIGIN", "*"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),

		IndexerURL:     envOr("INDEXER_URL", defaultIndexerURL),
		SubgraphAPIKey: os.Getenv("SUBGRAPH_API_KEY"),
		RPCURL:         os.Getenv("RPC_URL"),
		StateContract:  os.Getenv("STATE_CONTRACT"),
		Markets:        DefaultMarkets,
		AmountDecimals: int32(envInt("AMOUNT_DECIMALS", 18)),

		PollInterval:  envDuration("POLL_INTERVAL", time.Minute),
		RecoveryDelay: envDuration("RECOVERY_DELAY", 10*time.Second),
		PageSize:      envInt("PAGE_SIZE", 500),

		BatchSize:      envInt("BATCH_SIZE", 50),
		RetryAttempts:  envInt("RETRY_ATTEMPTS", 3),
		RetryDelay:     envDuration("RETRY_DELAY", 2*time.Second),
		BatchPause:     envDuration("BATCH_PAUSE", 5*time.Second),
		ResolveTimeout: envDuration("RESOLVE_TIMEOUT", 30*time.Second),

		AlertRulesFile:        os.Getenv("ALERT_RULES_FILE"),
		AlertCooldown:         envDuration("ALERT_COOLDOWN", time.Hour),
		NotificationRetention: envDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
	}

	if raw := os.Getenv("MARKETS"); raw != "" {
		markets, err := ParseMarkets(raw)
		if err != nil {
			slog.Warn("invalid MARKETS, using defaults", "error", err)
		} else {
			cfg.Markets = markets
		}
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	cfg.IndexerURL = strings.ReplaceAll(cfg.IndexerURL, apiKeyPlaceholder, cfg.SubgraphAPIKey)
	return cfg
}

// ParseMarkets parses "id=Display Name" pairs separated by commas.
func ParseMarkets(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, name, ok := strings.Cut(pair, "=")
		id, name = strings.ToLower(strings.TrimSpace(id)), strings.TrimSpace(name)
		if !ok || id == "" || name == "" {
			return nil, fmt.Errorf("market %q: want id=name", pair)
		}
		out[id] = name
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no markets in %q", raw)
	}
	return out, nil
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	secrets := map[string]*string{
		"TELEGRAM_BOT_TOKEN": &cfg.TelegramToken,
		"REDIS_PASSWORD":     &cfg.RedisPassword,
		"SUBGRAPH_API_KEY":   &cfg.SubgraphAPIKey,
		"DATABASE_URL":       &cfg.DatabaseURL,
	}

	for key, target := range secrets {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

// envDuration accepts Go durations ("90s") or bare seconds ("90").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

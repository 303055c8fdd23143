package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

var (
	// ErrEnvelope means the response envelope carried errors or no data.
	ErrEnvelope = errors.New("indexer envelope error")
	// ErrSchema means a record in the response does not have the expected shape.
	ErrSchema = errors.New("indexer schema error")
)

// Client queries an Overlay subgraph over GraphQL.
type Client struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a subgraph client for the given endpoint.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "indexer"),
	}
}

type gqlError struct {
	Message string `json:"message"`
}

type envelope struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []gqlError                 `json:"errors"`
}

// query posts a GraphQL query and returns the list stored under key.
func (c *Client) query(ctx context.Context, q, key string) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]string{"query": q})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.logger.Debug("graphql query", "entity", key, "query", q)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graphql request failed: %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrEnvelope, err)
	}
	if len(env.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrEnvelope, env.Errors[0].Message)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%w: empty data", ErrEnvelope)
	}
	list, ok := env.Data[key]
	if !ok || string(list) == "null" {
		return nil, fmt.Errorf("%w: missing %q", ErrEnvelope, key)
	}
	return list, nil
}

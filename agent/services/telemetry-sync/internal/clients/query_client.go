package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// Partner is a customer record visible to agents.
type Partner struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// QueryClient reads agent reference data. Every call carries the session token as
// the "token" query parameter.
type QueryClient struct {
	base    *BaseClient
	markers AuthMarkers
}

// NewQueryClient returns client.
func NewQueryClient(base *BaseClient, markers AuthMarkers) *QueryClient {
	if markers == nil {
		markers = DefaultAuthMarkers
	}
	return &QueryClient{base: base, markers: markers}
}

// Partners lists active partners.
func (c *QueryClient) Partners(ctx context.Context, token string) ([]Partner, error) {
	status, body, err := c.base.Get(ctx, "/api/agent/partners", tokenQuery(token))
	if err != nil {
		return nil, transportError(err)
	}
	var partners []Partner
	if err := c.decodeList(status, body, "partners", &partners); err != nil {
		return nil, err
	}
	return partners, nil
}

// Orders lists the agent's orders. The server exposes this read as a POST.
func (c *QueryClient) Orders(ctx context.Context, token string) ([]json.RawMessage, error) {
	status, body, err := c.base.PostForm(ctx, "/api/agent/orders", tokenQuery(token), url.Values{})
	if err != nil {
		return nil, transportError(err)
	}
	var orders []json.RawMessage
	if err := c.decodeList(status, body, "orders", &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Visits lists the agent's visits.
func (c *QueryClient) Visits(ctx context.Context, token string) ([]json.RawMessage, error) {
	status, body, err := c.base.Get(ctx, "/api/agent/visits", tokenQuery(token))
	if err != nil {
		return nil, transportError(err)
	}
	var visits []json.RawMessage
	if err := c.decodeList(status, body, "visits", &visits); err != nil {
		return nil, err
	}
	return visits, nil
}

func (c *QueryClient) decodeList(status int, body []byte, key string, out interface{}) error {
	env, err := interpret(status, body, c.markers)
	if err != nil {
		return err
	}
	raw, ok := env.Fields[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", models.ErrTransportFailure, key, err)
	}
	return nil
}

func tokenQuery(token string) url.Values {
	q := url.Values{}
	q.Set("token", token)
	return q
}

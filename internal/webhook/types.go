package webhook

import (
	"context"

	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/router"
)

// Router starts dispatches without waiting for them.
type Router interface {
	Route(ctx context.Context, ticketID string, trig router.Trigger) (*router.Pending, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	Name string
	Path string
	// Secret is the HMAC key for this endpoint.
	Secret          string
	SignatureHeader string
	MaxBodySize     int64
}

func ConfigFrom(wc config.WebhooksConfig) Config {
	cfg := Config{Listen: wc.Listen, Endpoints: make([]EndpointConfig, len(wc.Endpoints))}
	for i, ep := range wc.Endpoints {
		cfg.Endpoints[i] = EndpointConfig{
			Name:            ep.Name,
			Path:            ep.Path,
			Secret:          ep.Secret,
			SignatureHeader: ep.SignatureHeader,
			MaxBodySize:     ep.MaxBodySize,
		}
	}
	return cfg
}

// CommentEvent is the body the ticket system posts for a new comment.
type CommentEvent struct {
	TicketID string `json:"ticketId"`
	Author   string `json:"author"`
	Body     string `json:"body"`
	Urgent   bool   `json:"urgent,omitempty"`
}

// RoutedTrigger reports one trigger derived from a comment.
type RoutedTrigger struct {
	Mention  string   `json:"mention,omitempty"`
	Kind     string   `json:"kind"`
	Personas []string `json:"personas,omitempty"`
	Skipped  string   `json:"skipped,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type TriggerResponse struct {
	TicketID string          `json:"ticketId"`
	Triggers []RoutedTrigger `json:"triggers"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	DefaultMaxBodySize     = 1 << 20
	DefaultSignatureHeader = "X-Switchyard-Signature"
)

package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/domain"
)

// Deliverer hands a finished dispatch's payload to whoever applies it.
type Deliverer interface {
	Deliver(ctx context.Context, ticketID string, p Payload) (Applied, error)
}

type delivery struct {
	ctx      context.Context
	ticketID string
	payload  Payload
	reply    chan deliveryResult
}

type deliveryResult struct {
	applied Applied
	err     error
}

// Channel applies payloads on a single goroutine, in arrival order.
type Channel struct {
	applier *Applier
	queue   chan delivery
}

var _ Deliverer = (*Channel)(nil)

func NewChannel(applier *Applier, buffer int) *Channel {
	return &Channel{applier: applier, queue: make(chan delivery, buffer)}
}

// Run consumes deliveries until ctx is done.
func (c *Channel) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-c.queue:
			applied, err := c.applier.Apply(d.ctx, d.ticketID, d.payload)
			d.reply <- deliveryResult{applied: applied, err: err}
		}
	}
}

func (c *Channel) Deliver(ctx context.Context, ticketID string, p Payload) (Applied, error) {
	d := delivery{ctx: ctx, ticketID: ticketID, payload: p, reply: make(chan deliveryResult, 1)}
	select {
	case c.queue <- d:
	case <-ctx.Done():
		return Applied{}, ctx.Err()
	}
	select {
	case r := <-d.reply:
		return r.applied, r.err
	case <-ctx.Done():
		return Applied{}, ctx.Err()
	}
}

// HTTP posts payloads to a switchyard API's completion endpoint.
type HTTP struct {
	client  *http.Client
	baseURL string
	token   string
}

var _ Deliverer = (*HTTP)(nil)

func NewHTTP(client *http.Client, baseURL, token string) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTP{client: client, baseURL: strings.TrimRight(baseURL, "/"), token: token}
}

func (h *HTTP) Deliver(ctx context.Context, ticketID string, p Payload) (Applied, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Applied{}, fmt.Errorf("marshal completion: %w", err)
	}
	endpoint := h.baseURL + "/api/v1/tickets/" + url.PathEscape(ticketID) + "/complete"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Applied{}, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Applied{}, fmt.Errorf("post completion: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		cause := fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, msg)
		if apiErr.Kind != "" {
			return Applied{}, domain.NewError(domain.Kind(apiErr.Kind), "completion.deliver", cause)
		}
		return Applied{}, cause
	}

	var applied Applied
	if err := json.Unmarshal(raw, &applied); err != nil {
		return Applied{}, fmt.Errorf("decode completion response: %w", err)
	}
	return applied, nil
}

// NewDeliverer picks the transport named in the completion config. The
// returned Channel is nil for the http mode.
func NewDeliverer(cfg config.CompletionConfig, applier *Applier) (Deliverer, *Channel, error) {
	switch cfg.Delivery {
	case "", config.DeliveryInProcess:
		ch := NewChannel(applier, 16)
		return ch, ch, nil
	case config.DeliveryHTTP:
		if cfg.URL == "" {
			return nil, nil, errors.New("completion.url is required for http delivery")
		}
		return NewHTTP(nil, cfg.URL, cfg.Token), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown completion delivery %q", cfg.Delivery)
}

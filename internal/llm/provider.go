// Package llm talks to hosted language models for the conversation strategy.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mattjoyce/switchyard/internal/domain"
)

// Provider sends one request and blocks until the full response arrives.
type Provider interface {
	Complete(ctx context.Context, request Request) (*Response, error)
}

// ProviderError is returned when the API answers with a non-200 status.
type ProviderError struct {
	StatusCode int
	Type       string
	Message    string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
}

func (err *ProviderError) IsRateLimited() bool { return err.StatusCode == http.StatusTooManyRequests }

func (err *ProviderError) IsOverloaded() bool { return err.StatusCode == 529 }

func (err *ProviderError) IsAuth() bool {
	return err.StatusCode == http.StatusUnauthorized || err.StatusCode == http.StatusForbidden
}

// Classify maps provider failures onto the dispatch error taxonomy. Rate
// limits, overload and authentication failures become
// CredentialOrQuotaExhausted; everything else passes through unchanged.
func Classify(err error) error {
	var perr *ProviderError
	if errors.As(err, &perr) && (perr.IsRateLimited() || perr.IsOverloaded() || perr.IsAuth()) {
		return domain.NewError(domain.KindCredentialOrQuotaExhausted, "llm.complete", err)
	}
	return err
}

func doRequest(ctx context.Context, client *http.Client, endpoint string, headers http.Header, wire any) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("llm: marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readProviderError(resp)
	}
	return resp, nil
}

// readProviderError parses {"error":{"type":"...","message":"..."}} and
// falls back to the raw body.
func readProviderError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		return &ProviderError{StatusCode: resp.StatusCode, Type: wire.Error.Type, Message: wire.Error.Message}
	}
	return &ProviderError{StatusCode: resp.StatusCode, Message: string(body)}
}

// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// WebhookChannel delivers notifications as JSON POSTs to a configured
// HTTP endpoint.
type WebhookChannel struct {
	client *http.Client
	url    string
	auth   string
}

// NewWebhookChannel creates a webhook channel for the given endpoint.
// auth, when non-empty, is sent verbatim as the Authorization header.
func NewWebhookChannel(url, auth string) *WebhookChannel {
	return &WebhookChannel{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		url:  url,
		auth: auth,
	}
}

// Name returns the channel identifier.
func (c *WebhookChannel) Name() string {
	return "webhook"
}

// webhookPayload is the wire format for one notification.
type webhookPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Send posts the message to the webhook endpoint.
func (c *WebhookChannel) Send(ctx context.Context, message string) (*SendResult, error) {
	payload := webhookPayload{
		Event:     "ingestion.notification",
		Timestamp: time.Now().UTC(),
		Message:   message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Ingestwatch/1.0")
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &SendResult{
			Status:       SendError,
			Transient:    true,
			ErrorMessage: fmt.Sprintf("webhook request failed: %v", err),
		}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		respBody = []byte("(failed to read response)")
	}

	result := &SendResult{ResponseCode: resp.StatusCode}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Status = SendOK

	case resp.StatusCode == http.StatusTooManyRequests:
		result.Status = SendThrottled
		result.ErrorMessage = fmt.Sprintf("webhook throttled: %s", string(respBody))
		if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
			result.RetryAfter = &after
		}

	case resp.StatusCode >= 500:
		result.Status = SendError
		result.Transient = true
		result.ErrorMessage = fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, string(respBody))

	default:
		result.Status = SendError
		result.Transient = false
		result.ErrorMessage = fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	return result, nil
}

// parseRetryAfter handles the delta-seconds form of the Retry-After
// header. The HTTP-date form is rare from webhook providers and is
// ignored; backoff falls back to its own schedule.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

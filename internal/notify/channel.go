// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

// Package notify routes finalized session records to an external
// notification channel, either one message per session (immediate
// mode) or as periodic batch summaries (windowed mode). Delivery is
// rate limited by a shared token bucket and suppressed during a
// configured quiet window. Nothing in this package propagates errors
// back to the ingestion path.
package notify

import (
	"context"
	"time"
)

// SendStatus classifies the outcome of one channel send.
type SendStatus int

const (
	// SendOK means the message was accepted by the channel.
	SendOK SendStatus = iota

	// SendThrottled means the channel asked us to slow down. The
	// message is retained and the rate limiter enters backoff.
	SendThrottled

	// SendError means delivery failed. Transient distinguishes
	// retryable failures from permanent rejection.
	SendError
)

// String returns the metric label for the status.
func (s SendStatus) String() string {
	switch s {
	case SendOK:
		return "ok"
	case SendThrottled:
		return "throttled"
	case SendError:
		return "error"
	default:
		return "unknown"
	}
}

// SendResult describes one delivery attempt.
type SendResult struct {
	Status SendStatus

	// RetryAfter is the channel's requested pause, if it sent one
	// with a throttle response.
	RetryAfter *time.Duration

	// Transient is set for errors worth retrying (network failures,
	// 5xx responses). Permanent errors (bad request, bad auth) are
	// not worth a second attempt with the same payload.
	Transient bool

	// ResponseCode is the HTTP status, when the channel is HTTP.
	ResponseCode int

	// ErrorMessage holds failure detail for logging.
	ErrorMessage string
}

// Channel delivers a rendered notification message. Implementations
// report failure through the result rather than an error return; a
// non-nil error from Send means the attempt could not be made at all
// (request construction failed) and is treated as permanent.
type Channel interface {
	Name() string
	Send(ctx context.Context, message string) (*SendResult, error)
}

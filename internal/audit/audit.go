// Package audit records security-relevant OAuth events. Recording is
// best effort: a failing sink is logged and never fails the request that
// produced the event.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// EventType names an audited action.
type EventType string

const (
	CodeIssued     EventType = "authorization_code.issued"
	TokenIssued    EventType = "token.issued"
	TokenRefreshed EventType = "token.refreshed"
	TokenRevoked   EventType = "token.revoked"
	GrantFailed    EventType = "token.grant_failed"
)

// Event is one audit record. It never carries token values or secrets.
type Event struct {
	Type      EventType `json:"type"`
	Time      time.Time `json:"time"`
	ClientID  string    `json:"client_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	TokenID   string    `json:"token_id,omitempty"`
	GrantType string    `json:"grant_type,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Sink receives audit events. Implementations handle their own failures.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs each event at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, e Event) {
	attrs := []slog.Attr{
		slog.String("event", string(e.Type)),
		slog.Time("at", e.Time),
	}

	if e.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", e.ClientID))
	}

	if e.UserID != "" {
		attrs = append(attrs, slog.String("user_id", e.UserID))
	}

	if e.TokenID != "" {
		attrs = append(attrs, slog.String("token_id", e.TokenID))
	}

	if e.GrantType != "" {
		attrs = append(attrs, slog.String("grant_type", e.GrantType))
	}

	if len(e.Scopes) > 0 {
		attrs = append(attrs, slog.Any("scopes", e.Scopes))
	}

	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

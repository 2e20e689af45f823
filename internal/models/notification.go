package models

import (
	"time"

	"github.com/google/uuid"
)

// Alert levels in ascending severity.
const (
	AlertLevelDebug    = "debug"
	AlertLevelInfo     = "info"
	AlertLevelWarn     = "warn"
	AlertLevelCritical = "critical"
)

var alertLevelRank = map[string]int{
	AlertLevelDebug:    0,
	AlertLevelInfo:     1,
	AlertLevelWarn:     2,
	AlertLevelCritical: 3,
}

// AlertLevelAtLeast reports whether level is at or above min.
// Unknown levels are treated as info.
func AlertLevelAtLeast(level, min string) bool {
	l, ok := alertLevelRank[level]
	if !ok {
		l = 1
	}
	m, ok := alertLevelRank[min]
	if !ok {
		m = 1
	}
	return l >= m
}

// NotificationLog — idempotent delivery journal. The unique idempotency
// key turns every notification into an at-most-once event.
type NotificationLog struct {
	ID             uuid.UUID  `json:"id"`
	IdempotencyKey string     `json:"idempotency_key"`
	Kind           string     `json:"kind"` // admin_alert / user_notify
	RecipientID    *uuid.UUID `json:"recipient_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

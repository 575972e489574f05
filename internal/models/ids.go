// Package models holds the entity types shared by storage, the orchestrator,
// the event bus, and the HTTP API. Types carry ToStorage/FromStorage pairs so
// the wire (JSON) and persisted (flat string columns) shapes can diverge from
// the in-memory representation without leaking storage concerns upward.
package models

import (
	"regexp"
	"time"
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}[a-z0-9]$|^[a-z0-9]$`)

// ValidIdentifier reports whether id matches the repo-wide identifier rule:
// lowercase alphanumerics plus hyphen, 1-64 chars, not starting/ending in a hyphen.
func ValidIdentifier(id string) bool {
	return identifierPattern.MatchString(id)
}

// NowMilli returns the current time as epoch milliseconds.
func NowMilli() int64 {
	return time.Now().UnixMilli()
}

// Ptr returns a pointer to v; used throughout models to populate optional fields.
func Ptr[T any](v T) *T {
	return &v
}

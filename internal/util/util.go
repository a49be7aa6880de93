// Package util provides small string helpers shared across mapsync.
package util

import (
	"regexp"
	"strings"
)

// DefaultEndpoint is used when no endpoint is configured.
const DefaultEndpoint = "ws://127.0.0.1:8765/adminws"

// MaxTags caps the number of entries ParseTagList returns.
const MaxTags = 12

var tagSeparators = regexp.MustCompile(`[，,;；\s]+`)

// NormalizeWSURL turns an HTTP(S) URL into a WebSocket URL. A trailing
// /snapshot path is mapped onto the /adminws channel.
func NormalizeWSURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultEndpoint
	}
	switch {
	case strings.HasPrefix(s, "http://"):
		s = "ws://" + strings.TrimPrefix(s, "http://")
	case strings.HasPrefix(s, "https://"):
		s = "wss://" + strings.TrimPrefix(s, "https://")
	}
	if strings.HasSuffix(s, "/snapshot") {
		s = strings.TrimSuffix(s, "/snapshot") + "/adminws"
	}
	return s
}

// SnapshotURL is the inverse of NormalizeWSURL: it turns a channel URL
// into the HTTP snapshot endpoint used by the poller.
func SnapshotURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = DefaultEndpoint
	}
	switch {
	case strings.HasPrefix(s, "ws://"):
		s = "http://" + strings.TrimPrefix(s, "ws://")
	case strings.HasPrefix(s, "wss://"):
		s = "https://" + strings.TrimPrefix(s, "wss://")
	}
	s = strings.TrimRight(s, "/")
	if strings.HasSuffix(s, "/adminws") {
		return strings.TrimSuffix(s, "/adminws") + "/snapshot"
	}
	if !strings.HasSuffix(s, "/snapshot") {
		s += "/snapshot"
	}
	return s
}

// ParseTagList splits a user-entered tag list on commas, semicolons
// (ASCII or full-width) and whitespace. Empty entries are dropped and at
// most MaxTags are kept.
func ParseTagList(raw string) []string {
	var tags []string
	for _, part := range tagSeparators.Split(raw, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tags = append(tags, part)
		if len(tags) == MaxTags {
			break
		}
	}
	return tags
}

// ContainsAny reports whether s contains any of the substrings.
func ContainsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

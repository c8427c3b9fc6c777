// Package notify implements per-channel notification fan-out: dispatch,
// batching windows, and quiet hours (spec §4.8). It generalizes the
// teacher's internal/notifications package (single FCM push channel) into
// a five-channel fan-out behind one Sender interface with a type-keyed
// factory (spec §9 "Dynamic dispatch across channel senders").
package notify

import (
	"time"

	"github.com/engels74/comradarr-sub004/internal/model"
)

// Field is one named/value pair in a Payload (spec §6 Notification payload).
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Payload is the channel-agnostic notification body; each Sender translates
// it into its own wire envelope (spec §6).
type Payload struct {
	Title     string
	Message   string
	Fields    []Field
	Color     string
	Timestamp time.Time
}

// Template renders a Payload from a typed analytics event (spec §4.8
// "builds a payload from a per-event template").
func Template(eventType model.AnalyticsEventType, data map[string]any, at time.Time) Payload {
	title, message := titleAndMessage(eventType, data)
	return Payload{Title: title, Message: message, Timestamp: at}
}

func titleAndMessage(eventType model.AnalyticsEventType, data map[string]any) (string, string) {
	switch eventType {
	case model.EventGapDiscovered:
		return "Gap discovered", stringField(data, "contentType") + " " + stringField(data, "contentId") + " is missing a file"
	case model.EventUpgradeDiscovered:
		return "Upgrade available", stringField(data, "contentType") + " " + stringField(data, "contentId") + " is below the quality cutoff"
	case model.EventSearchDispatched:
		return "Search dispatched", "registry " + stringField(data, "registryId") + " dispatched to upstream"
	case model.EventSearchCompleted:
		return "Search completed", "command " + stringField(data, "commandId") + " completed"
	case model.EventSearchFailed:
		return "Search failed", "registry " + stringField(data, "registryId") + ": " + stringField(data, "reason")
	case model.EventSearchNoResults:
		return "No results", "registry " + stringField(data, "registryId") + " found nothing upstream"
	case model.EventSyncCompleted:
		return "Sync completed", "sync pass finished"
	case model.EventSyncFailed:
		return "Sync failed", stringField(data, "reason")
	default:
		return string(eventType), "event recorded"
	}
}

func stringField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return trimFloat(t)
	default:
		return ""
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return itoa(int64(f))
	}
	return ""
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}

// InQuietHours reports whether at (evaluated in tz) falls within
// [startHour, endHour) — spec §8 property 7. An end hour earlier than the
// start hour (e.g. 22 -> 7) is treated as spanning midnight; equal start
// and end hours form an empty window, so nothing is ever quiet.
func InQuietHours(enabled bool, startHour, endHour int, tz string, at time.Time) bool {
	if !enabled {
		return false
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	hour := at.In(loc).Hour()
	if startHour == endHour {
		return false
	}
	if startHour < endHour {
		return hour >= startHour && hour < endHour
	}
	// Spans midnight, e.g. 22:00 -> 07:00.
	return hour >= startHour || hour < endHour
}

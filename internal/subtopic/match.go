// Package subtopic implements MQTT topic filter matching (the '+' and '#'
// wildcards) shared between the subscription table and topic validation.
package subtopic

import "strings"

// Match reports whether topic matches filter under MQTT wildcard rules:
// '+' matches exactly one level, '#' matches the rest of the topic
// (including zero levels) and must be the final level in filter.
//
// Per MQTT-4.7.2-1, a filter beginning with a wildcard never matches a
// topic beginning with '$' (reserved for broker system topics).
func Match(filter, topic string) bool {
	if len(topic) > 0 && topic[0] == '$' {
		if len(filter) > 0 && (filter[0] == '+' || filter[0] == '#') {
			return false
		}
	}

	fIdx, tIdx := 0, 0
	fLen, tLen := len(filter), len(topic)

	for fIdx <= fLen {
		var fLevel string
		var fNext int
		if idx := strings.IndexByte(filter[fIdx:], '/'); idx >= 0 {
			fNext = fIdx + idx
			fLevel = filter[fIdx:fNext]
		} else {
			fNext = fLen
			fLevel = filter[fIdx:]
		}

		if fLevel == "#" {
			return true
		}

		if tIdx > tLen {
			return false
		}

		var tLevel string
		var tNext int
		if idx := strings.IndexByte(topic[tIdx:], '/'); idx >= 0 {
			tNext = tIdx + idx
			tLevel = topic[tIdx:tNext]
		} else {
			tNext = tLen
			tLevel = topic[tIdx:]
		}

		if fLevel != "+" && fLevel != tLevel {
			return false
		}

		if fNext == fLen {
			fIdx = fLen + 1
		} else {
			fIdx = fNext + 1
		}

		if tNext == tLen {
			tIdx = tLen + 1
		} else {
			tIdx = tNext + 1
		}
	}

	return tIdx > tLen
}

// ValidFilter reports whether filter obeys the wildcard placement rules for
// a subscription topic filter: '+' must occupy an entire level, '#' must
// occupy an entire level and be the last one.
func ValidFilter(filter string) bool {
	parts := strings.Split(filter, "/")
	for i, part := range parts {
		if strings.Contains(part, "+") && part != "+" {
			return false
		}
		if strings.Contains(part, "#") {
			if part != "#" {
				return false
			}
			if i != len(parts)-1 {
				return false
			}
		}
	}
	return true
}

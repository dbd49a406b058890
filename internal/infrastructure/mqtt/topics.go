package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes owned by the sink.
const (
	// TopicPrefix is the base for all topics the sink publishes itself.
	TopicPrefix = "tsdbsink"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "tsdbsink/system"
)

// Topics provides builders for the sink's own MQTT topics.
type Topics struct{}

// SystemStatus returns the online/offline status topic.
//
// Example: tsdbsink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// Results returns the default topic for emitted write results.
//
// Example: tsdbsink/results
func (Topics) Results() string {
	return fmt.Sprintf("%s/results", TopicPrefix)
}

// ValidateFilter checks that filter is a well-formed subscription filter:
// non-empty, "#" only as the last level, and wildcards only as whole levels.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidTopic, filter)
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: %q: wildcard must occupy a whole level", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// Match reports whether topic matches the subscription filter.
func Match(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}

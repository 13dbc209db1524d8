package filter

import (
	"errors"
	"fmt"
	"strings"
)

const maxTopicLength = 65535

// ErrInvalidTopic wraps every topic validation failure.
var ErrInvalidTopic = errors.New("invalid topic")

// ValidateTopicFilter checks a subscription topic filter.
func ValidateTopicFilter(topic string) error {
	if err := validateTopic(topic); err != nil {
		return err
	}

	segments := strings.Split(topic, "/")
	for i, segment := range segments {
		if strings.Contains(segment, "#") {
			if segment != "#" {
				return fmt.Errorf("%w: # wildcard must occupy entire segment", ErrInvalidTopic)
			}
			if i != len(segments)-1 {
				return fmt.Errorf("%w: # wildcard must be the last segment", ErrInvalidTopic)
			}
		}
		if strings.Contains(segment, "+") && segment != "+" {
			return fmt.Errorf("%w: + wildcard must occupy entire segment", ErrInvalidTopic)
		}
	}
	return nil
}

// ValidateTopicName checks a topic used for publishing.
func ValidateTopicName(topic string) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in topic names", ErrInvalidTopic)
	}
	return nil
}

func validateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic longer than %d bytes", ErrInvalidTopic, maxTopicLength)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains a null character", ErrInvalidTopic)
	}
	return nil
}

// Match reports whether topic matches the subscription pattern. A trailing
// # also matches the parent level, and wildcards in the first level never
// match topics starting with $.
func Match(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}

	patternSegs := strings.Split(pattern, "/")
	topicSegs := strings.Split(topic, "/")
	if isSystemTopic(topic) && (patternSegs[0] == "+" || patternSegs[0] == "#") {
		return false
	}

	for i, seg := range patternSegs {
		if seg == "#" {
			return i == len(patternSegs)-1
		}
		if i >= len(topicSegs) {
			return false
		}
		if seg != "+" && seg != topicSegs[i] {
			return false
		}
	}
	return len(patternSegs) == len(topicSegs)
}

func isSystemTopic(topic string) bool {
	return strings.HasPrefix(topic, "$")
}

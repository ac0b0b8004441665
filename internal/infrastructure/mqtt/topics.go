package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// TopicPrefixCAN is the root of the CAN frame topic tree. The leading slash
// makes the first level empty; it is part of the topic, not a separator
// artefact.
const TopicPrefixCAN = "/can"

// maxTopicLength is the MQTT limit on UTF-8 encoded topic strings.
const maxTopicLength = 65535

// Topics provides builders for CAN topics.
//
//	topics := mqtt.Topics{}
//	topics.CANFrame("101") // "/can/101"
type Topics struct{}

// CANFrame returns the topic a CAN frame with the given identifier is
// published on.
//
// Example: /can/101
func (Topics) CANFrame(id string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixCAN, id)
}

// AllCANFrames returns a filter matching every CAN topic.
//
// Pattern: /can/#
func (Topics) AllCANFrames() string {
	return TopicPrefixCAN + "/#"
}

// ValidateTopic checks a topic name used for publishing.
// Names must be non-empty UTF-8 without wildcards or NUL.
func ValidateTopic(topic string) error {
	if err := validateCommon(topic); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards are not allowed in topic names", ErrInvalidTopic)
	}
	return nil
}

// ValidateFilter checks a subscription filter against the MQTT 3.1.1
// wildcard rules: "#" only as the last whole level, "+" only as a whole level.
func ValidateFilter(filter string) error {
	if err := validateCommon(filter); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: %q may only use # as the last whole level", ErrInvalidFilter, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: %q may only use + as a whole level", ErrInvalidFilter, filter)
		}
	}
	return nil
}

// validateCommon applies the rules shared by topic names and filters.
func validateCommon(s string) error {
	switch {
	case s == "":
		return errors.New("cannot be empty")
	case len(s) > maxTopicLength:
		return fmt.Errorf("length %d exceeds %d bytes", len(s), maxTopicLength)
	case !utf8.ValidString(s):
		return errors.New("must be valid UTF-8")
	case strings.ContainsRune(s, 0):
		return errors.New("must not contain NUL")
	}
	return nil
}

// MatchFilter reports whether a concrete topic matches a subscription filter.
//
// "#" matches the parent level and any number of child levels, "+" matches
// exactly one level (which may be empty). Topics starting with "$" are not
// matched by a filter whose first level is a wildcard.
func MatchFilter(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, level := range filterLevels {
		if level == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}

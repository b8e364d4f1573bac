// Package topic validates and matches MQTT topic names and subscribe filters.
//
// The grammar follows MQTT 3.1.1 section 4.7:
//   - Topics are UTF-8, 1 to 65535 bytes, and never contain U+0000
//   - '+' matches exactly one level and must occupy a whole level
//   - '#' matches any number of levels and must be the last level on its own
//   - Wildcards are only allowed in subscribe filters, never in publish topics
package topic

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxTopicLength is the MQTT limit on an encoded topic string.
const maxTopicLength = 65535

// Topic grammar errors.
var (
	// ErrEmpty is returned for a zero-length topic.
	ErrEmpty = errors.New("topic: must not be empty")

	// ErrTooLong is returned when the encoded topic exceeds 65535 bytes.
	ErrTooLong = errors.New("topic: exceeds 65535 bytes")

	// ErrInvalidUTF8 is returned for topics that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("topic: not valid UTF-8")

	// ErrNullCharacter is returned when the topic contains U+0000.
	ErrNullCharacter = errors.New("topic: contains null character")

	// ErrInvalidWildcard is returned when '+' or '#' is misplaced.
	ErrInvalidWildcard = errors.New("topic: invalid wildcard usage")

	// ErrWildcardInPublish is returned when a publish topic contains a wildcard.
	ErrWildcardInPublish = errors.New("topic: wildcards not allowed in publish topic")
)

// validate checks the rules shared by publish topics and subscribe filters.
func validate(t string) error {
	if t == "" {
		return ErrEmpty
	}
	if len(t) > maxTopicLength {
		return ErrTooLong
	}
	if !utf8.ValidString(t) {
		return ErrInvalidUTF8
	}
	if strings.ContainsRune(t, 0) {
		return ErrNullCharacter
	}
	return nil
}

// ValidSubscribe reports whether filter is a legal MQTT subscribe filter.
//
// Examples:
//
//	ValidSubscribe("home/+/set")   // nil
//	ValidSubscribe("home/#")       // nil
//	ValidSubscribe("home/#/x")     // ErrInvalidWildcard
//	ValidSubscribe("home/a+/set")  // ErrInvalidWildcard
func ValidSubscribe(filter string) error {
	if err := validate(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") {
			if level != "#" || i != len(levels)-1 {
				return fmt.Errorf("%w: %q ('#' must be the final level)", ErrInvalidWildcard, filter)
			}
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: %q ('+' must occupy a whole level)", ErrInvalidWildcard, filter)
		}
	}
	return nil
}

// ValidPublish reports whether t is a legal MQTT publish topic.
func ValidPublish(t string) error {
	if err := validate(t); err != nil {
		return err
	}
	if strings.ContainsAny(t, "+#") {
		return fmt.Errorf("%w: %q", ErrWildcardInPublish, t)
	}
	return nil
}

// Match reports whether the concrete topic t is selected by filter.
//
// Topics starting with '$' are not matched by filters starting with a
// wildcard, per MQTT 4.7.2.
func Match(filter, t string) bool {
	if strings.HasPrefix(t, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(t, "/")

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

// Package telemetry classifies notification text pushed by the window controller.
//
// The classifier is lossy on purpose: the peripheral is authoritative, so the decoder
// only looks for a known keyword and never tries to correct or validate the message.
package telemetry

import (
	"strings"
)

// Kind is the classification of one notification
type Kind int

const (
	Unrecognized Kind = iota
	SensorClosed
	SensorOpened
)

func (k Kind) String() string {
	switch k {
	case SensorClosed:
		return "sensor_closed"
	case SensorOpened:
		return "sensor_opened"
	default:
		return "unrecognized"
	}
}

// Event is a decoded notification. Text keeps the cleaned original message.
type Event struct {
	Kind Kind
	Text string
}

// Recognized reports whether the event maps to a window state
func (e Event) Recognized() bool { return e.Kind != Unrecognized }

// Default vocabulary in the deployed language, with English synonyms
var (
	DefaultClosedWords = []string{"cerrada", "closed"}
	DefaultOpenedWords = []string{"abierta", "open"}
)

// Decoder matches notification text against a fixed vocabulary
type Decoder struct {
	closed []string
	opened []string
}

// Option customises a Decoder
type Option func(*Decoder)

// WithClosedWords replaces the keywords that mean the window closed
func WithClosedWords(words ...string) Option {
	return func(d *Decoder) { d.closed = lowerAll(words) }
}

// WithOpenedWords replaces the keywords that mean the window opened
func WithOpenedWords(words ...string) Option {
	return func(d *Decoder) { d.opened = lowerAll(words) }
}

// NewDecoder returns a decoder using the default vocabulary unless overridden
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		closed: lowerAll(DefaultClosedWords),
		opened: lowerAll(DefaultOpenedWords),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode classifies text. Closed keywords win when both appear.
func (d *Decoder) Decode(text string) Event {
	clean := strings.TrimSpace(strings.Trim(text, "\x00"))
	lower := strings.ToLower(clean)

	if containsAny(lower, d.closed) {
		return Event{Kind: SensorClosed, Text: clean}
	}
	if containsAny(lower, d.opened) {
		return Event{Kind: SensorOpened, Text: clean}
	}
	return Event{Kind: Unrecognized, Text: clean}
}

// DecodeBytes decodes a raw characteristic value
func (d *Decoder) DecodeBytes(raw []byte) Event {
	return d.Decode(string(raw))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, strings.ToLower(w))
	}
	return out
}

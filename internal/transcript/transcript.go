// Package transcript turns the transcription service's back-channel into an
// ordered, append-only transcript log and detects trigger phrases in it.
//
// The flow is one-directional:
//
//  1. [Consumer] decodes inbound JSON events and appends a [Segment] to a
//     [Log] for every event its [Mode] accepts.
//  2. [Scan] (or the stateful [Detector]) examines segments newer than a
//     cursor exactly once each and reports the ones where the configured
//     speaker says the configured phrase.
//
// Insertion order is the transcript: segment indices are assigned by the log
// at append time and never change.
package transcript

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedMessage is returned by [Parse] for messages that are not valid
// transcript events.
var ErrMalformedMessage = errors.New("transcript: malformed message")

// Speaker identifies a call participant. The transcription service tags
// utterances with a numeric channel id and, usually, a display name.
type Speaker struct {
	// ID is the numeric channel id. Only meaningful when HasID is set.
	ID int

	// HasID reports whether the event carried a numeric id.
	HasID bool

	// Name is the display name, e.g. the agent's name.
	Name string
}

// SpeakerID returns a Speaker with only a numeric id.
func SpeakerID(id int) Speaker { return Speaker{ID: id, HasID: true} }

// SpeakerNamed returns a Speaker with only a display name.
func SpeakerNamed(name string) Speaker { return Speaker{Name: name} }

// Is reports whether s is the participant described by want. Numeric ids are
// compared when both sides carry one; otherwise display names are compared
// case-insensitively. A zero want matches nobody.
func (s Speaker) Is(want Speaker) bool {
	if want.HasID && s.HasID {
		return s.ID == want.ID
	}
	if want.Name != "" {
		return strings.EqualFold(strings.TrimSpace(s.Name), strings.TrimSpace(want.Name))
	}
	return false
}

func (s Speaker) String() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.HasID:
		return "Speaker " + strconv.Itoa(s.ID)
	default:
		return "Unknown"
	}
}

// Segment is one utterance in the transcript. Segments are immutable once
// appended to a [Log].
type Segment struct {
	// Index is the position in the log, assigned at append time.
	Index int

	Text    string
	Speaker Speaker

	// Sentiment is the optional sentiment label, e.g. "positive".
	Sentiment string

	// Profanity is set when the service flagged the utterance.
	Profanity bool

	// IsFinal distinguishes final hypotheses from interim ones.
	IsFinal bool

	ReceivedAt time.Time
}

package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrWong99/salescopilot/internal/observe"
)

// Mode selects which transcript events a [Consumer] keeps.
type Mode int

const (
	// ModeAll keeps partial and final events, for low-latency live display.
	ModeAll Mode = iota

	// ModeFinalOnly keeps only final events, for playback and report flows.
	ModeFinalOnly
)

// ParseMode maps the configuration spelling ("all", "final") to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "all":
		return ModeAll, nil
	case "final", "final_only":
		return ModeFinalOnly, nil
	default:
		return 0, fmt.Errorf("transcript: unknown mode %q", s)
	}
}

func (m Mode) String() string {
	if m == ModeFinalOnly {
		return "final"
	}
	return "all"
}

// Participants names the two sides of the call. It is used to label
// utterances that arrive without a speaker_name: channel 0 is the agent and
// channel 1 the lead.
type Participants struct {
	Agent string
	Lead  string
}

// name returns the display name for channel id.
func (p Participants) name(id int) string {
	switch {
	case id == 0 && p.Agent != "":
		return p.Agent
	case id == 1 && p.Lead != "":
		return p.Lead
	default:
		return "Speaker " + strconv.Itoa(id)
	}
}

// ConsumerOption is a functional option for configuring a [Consumer].
type ConsumerOption func(*Consumer)

// WithMode sets the consumption mode. Default: [ModeAll].
func WithMode(m Mode) ConsumerOption {
	return func(c *Consumer) { c.mode = m }
}

// WithParticipants sets the names used for unlabelled speakers.
func WithParticipants(p Participants) ConsumerOption {
	return func(c *Consumer) { c.participants = p }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

// WithClock overrides the time source used for [Segment.ReceivedAt].
func WithClock(now func() time.Time) ConsumerOption {
	return func(c *Consumer) { c.now = now }
}

// Consumer decodes inbound messages and appends accepted events to a [Log].
// Handle must be called from a single goroutine (the session's read loop).
type Consumer struct {
	log          *Log
	mode         Mode
	participants Participants
	metrics      *observe.Metrics
	now          func() time.Time
}

// NewConsumer returns a Consumer appending to log.
func NewConsumer(log *Log, opts ...ConsumerOption) *Consumer {
	c := &Consumer{log: log, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Log returns the log the consumer appends to.
func (c *Consumer) Log() *Log { return c.log }

// Handle parses msg and, when it is a transcript event accepted by the mode,
// appends it. It reports the appended segment and whether anything was
// appended. Malformed messages are counted and ignored; events of other types
// are ignored silently.
func (c *Consumer) Handle(msg []byte) (Segment, bool) {
	ev, err := Parse(msg)
	if err != nil {
		c.metrics.TranscriptMalformed.Add(context.Background(), 1)
		slog.Debug("transcript: ignoring message", "err", err, "bytes", len(msg))
		return Segment{}, false
	}
	if ev.Type != EventTranscript {
		return Segment{}, false
	}
	if c.mode == ModeFinalOnly && !ev.IsFinal {
		return Segment{}, false
	}

	sp := ev.Speaker
	if sp.Name == "" && sp.HasID {
		sp.Name = c.participants.name(sp.ID)
	}
	seg := c.log.Append(Segment{
		Text:       ev.Text,
		Speaker:    sp,
		Sentiment:  ev.Sentiment,
		Profanity:  ev.Profanity,
		IsFinal:    ev.IsFinal,
		ReceivedAt: c.now(),
	})
	c.metrics.RecordTranscriptEvent(context.Background(), seg.IsFinal)
	return seg, true
}

// EventTranscript is the type tag of transcript events.
const EventTranscript = "transcript"

// Event is one decoded inbound message.
type Event struct {
	Type      string
	Text      string
	Speaker   Speaker
	Sentiment string
	Profanity bool
	IsFinal   bool
}

type wireEvent struct {
	Type        string          `json:"type"`
	Data        *string         `json:"data"`
	Speaker     json.RawMessage `json:"speaker"`
	SpeakerName string          `json:"speaker_name"`
	IsFinal     bool            `json:"is_final"`
	Sentiment   string          `json:"sentiment"`
	Profanity   bool            `json:"profanity_detected"`
}

// Parse decodes one inbound message. Any JSON object with a string "type" is
// a valid event; transcript events additionally need a string "data" and, when
// present, a numeric or string "speaker". Errors wrap [ErrMalformedMessage].
func Parse(msg []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(msg, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if w.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	ev := Event{Type: w.Type}
	if w.Type != EventTranscript {
		return ev, nil
	}
	if w.Data == nil {
		return Event{}, fmt.Errorf("%w: transcript without data", ErrMalformedMessage)
	}
	sp, err := parseSpeaker(w.Speaker)
	if err != nil {
		return Event{}, err
	}
	if w.SpeakerName != "" {
		sp.Name = w.SpeakerName
	}
	ev.Text = *w.Data
	ev.Speaker = sp
	ev.Sentiment = w.Sentiment
	ev.Profanity = w.Profanity
	ev.IsFinal = w.IsFinal
	return ev, nil
}

func parseSpeaker(raw json.RawMessage) (Speaker, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Speaker{}, nil
	}
	var id int
	if err := json.Unmarshal(raw, &id); err == nil {
		return SpeakerID(id), nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		if n, err := strconv.Atoi(name); err == nil {
			return SpeakerID(n), nil
		}
		return SpeakerNamed(name), nil
	}
	return Speaker{}, fmt.Errorf("%w: invalid speaker %s", ErrMalformedMessage, raw)
}

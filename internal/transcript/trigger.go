package transcript

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/salescopilot/internal/observe"
)

// MatchMode selects how a trigger phrase is compared against segment text.
type MatchMode string

const (
	// MatchExact is a case-insensitive substring test.
	MatchExact MatchMode = "exact"

	// MatchPhonetic additionally accepts phrases that sound alike, using the
	// configured [PhraseMatcher].
	MatchPhonetic MatchMode = "phonetic"
)

// PhraseMatcher decides whether text contains a phrase under a fuzzy notion
// of equality. Implementations must be safe for concurrent use and must not
// perform I/O; they run inside [Scan].
type PhraseMatcher interface {
	Contains(text, phrase string) bool
}

// TriggerConfig describes the phrase that raises a trigger and who has to say
// it.
type TriggerConfig struct {
	// Phrase is the trigger phrase. An empty phrase disables the trigger.
	Phrase string

	// Speaker is the participant whose utterances are examined.
	Speaker Speaker

	// Mode selects exact or phonetic matching. Empty means [MatchExact].
	Mode MatchMode

	// Matcher is consulted in [MatchPhonetic] mode after the exact test
	// fails. A nil Matcher degrades phonetic mode to exact matching.
	Matcher PhraseMatcher
}

// Validate reports configuration errors.
func (c TriggerConfig) Validate() error {
	switch c.Mode {
	case "", MatchExact, MatchPhonetic:
		return nil
	default:
		return fmt.Errorf("transcript: unknown trigger match mode %q", c.Mode)
	}
}

// matches reports whether seg raises the trigger.
func (c TriggerConfig) matches(seg Segment) bool {
	phrase := strings.TrimSpace(c.Phrase)
	if phrase == "" || !seg.Speaker.Is(c.Speaker) {
		return false
	}
	if strings.Contains(strings.ToLower(seg.Text), strings.ToLower(phrase)) {
		return true
	}
	return c.Mode == MatchPhonetic && c.Matcher != nil && c.Matcher.Contains(seg.Text, phrase)
}

// Scan examines every segment in log whose index is greater than cursor, in
// ascending order, and returns the indices of those that match cfg together
// with the index of the last segment examined. When nothing is newer than
// cursor, it returns cursor unchanged.
//
// The cursor advances past non-matching segments too, so each segment is
// evaluated at most once across repeated scans. A phrase split across two
// segments is therefore never detected, and several occurrences inside one
// segment count as one match.
//
// Scan is pure: it performs no I/O and does not modify log.
func Scan(log []Segment, cursor int, cfg TriggerConfig) (matches []int, newCursor int) {
	newCursor = cursor
	for _, seg := range log {
		if seg.Index <= newCursor {
			continue
		}
		if cfg.matches(seg) {
			matches = append(matches, seg.Index)
		}
		newCursor = seg.Index
	}
	return matches, newCursor
}

// Detector keeps the scan cursor and the current [TriggerConfig] for one
// transcript log. The configuration may be replaced at any time; a
// replacement never takes effect in the middle of a scan.
type Detector struct {
	mu      sync.Mutex
	cfg     TriggerConfig
	cursor  int
	metrics *observe.Metrics
}

// NewDetector returns a Detector that has evaluated nothing yet.
func NewDetector(cfg TriggerConfig, m *observe.Metrics) *Detector {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Detector{cfg: cfg, cursor: -1, metrics: m}
}

// SetConfig replaces the trigger configuration for subsequent scans.
func (d *Detector) SetConfig(cfg TriggerConfig) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// Config returns the current configuration.
func (d *Detector) Config() TriggerConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Cursor returns the index of the last evaluated segment, or -1.
func (d *Detector) Cursor() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

// Scan evaluates the segments appended to log since the previous call and
// returns the matching ones in order.
func (d *Detector) Scan(ctx context.Context, log *Log) []Segment {
	d.mu.Lock()
	defer d.mu.Unlock()

	segs := log.Since(d.cursor)
	idx, next := Scan(segs, d.cursor, d.cfg)
	d.cursor = next
	if len(idx) == 0 {
		return nil
	}
	out := make([]Segment, 0, len(idx))
	for _, i := range idx {
		// segs starts right after the previous cursor, so offsets are stable.
		out = append(out, segs[i-segs[0].Index])
	}
	d.metrics.TriggerMatches.Add(ctx, int64(len(out)))
	return out
}

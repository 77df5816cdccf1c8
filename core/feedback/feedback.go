package feedback

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a feedback entry.
type Kind string

const (
	KindLike        Kind = "like"
	KindDislike     Kind = "dislike"
	KindRating      Kind = "rating"
	KindCorrection  Kind = "correction"
	KindImprovement Kind = "improvement"
	KindComment     Kind = "comment"
	KindSelected    Kind = "selected"
	KindRejected    Kind = "rejected"
)

// Valid reports whether the kind is one of the defined constants.
func (k Kind) Valid() bool {
	switch k {
	case KindLike, KindDislike, KindRating, KindCorrection,
		KindImprovement, KindComment, KindSelected, KindRejected:
		return true
	}
	return false
}

// Positive reports whether the kind counts toward a target's positive total.
func (k Kind) Positive() bool {
	return k == KindLike || k == KindSelected
}

// Negative reports whether the kind counts toward a target's negative total.
func (k Kind) Negative() bool {
	return k == KindDislike || k == KindRejected
}

// Source identifies who produced a feedback entry.
type Source string

const (
	SourceUser   Source = "user"
	SourceSystem Source = "system"
	SourceAgent  Source = "agent"
	SourceMetric Source = "metric"
)

// Valid reports whether the source is one of the defined constants.
func (s Source) Valid() bool {
	switch s {
	case SourceUser, SourceSystem, SourceAgent, SourceMetric:
		return true
	}
	return false
}

// Entry is one appended feedback record. Entries are immutable once recorded;
// they disappear only through Clear.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	Kind       Kind           `json:"kind"`
	Source     Source         `json:"source"`
	Content    any            `json:"content"`
	TargetID   string         `json:"target_id,omitempty"`
	TargetType string         `json:"target_type,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Rating extracts a numeric rating from the entry content. The second return
// is false when the content is not numeric. JSON round-trips decode numbers
// as float64; the other numeric types cover entries recorded in process.
func (e Entry) Rating() (float64, bool) {
	switch v := e.Content.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Summary is the rolling aggregate for one feedback target, updated on every
// append.
type Summary struct {
	TargetID      string      `json:"target_id"`
	Count         int         `json:"count"`
	PositiveCount int         `json:"positive_count"`
	NegativeCount int         `json:"negative_count"`
	AverageRating float64     `json:"average_rating"`
	RatingCount   int         `json:"rating_count"`
	LastEntryID   uuid.UUID   `json:"last_entry_id"`
	LastEntryAt   time.Time   `json:"last_entry_at"`
	EntryIDs      []uuid.UUID `json:"entry_ids"`
}

// observe folds one entry into the aggregate. The rating average is an
// incremental running mean, so it stays exact without retaining samples.
func (s *Summary) observe(entry Entry) {
	s.Count++
	if entry.Kind.Positive() {
		s.PositiveCount++
	}
	if entry.Kind.Negative() {
		s.NegativeCount++
	}
	if entry.Kind == KindRating {
		if rating, ok := entry.Rating(); ok {
			s.RatingCount++
			s.AverageRating += (rating - s.AverageRating) / float64(s.RatingCount)
		}
	}
	s.LastEntryID = entry.ID
	s.LastEntryAt = entry.CreatedAt
	s.EntryIDs = append(s.EntryIDs, entry.ID)
}

// Clone returns a deep copy of the summary.
func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}
	clone := *s
	if s.EntryIDs != nil {
		clone.EntryIDs = append([]uuid.UUID(nil), s.EntryIDs...)
	}
	return &clone
}

// Processor observes each entry synchronously at append time. A panicking
// processor is recovered and logged without interrupting the append.
type Processor func(entry Entry)

// Filter narrows List results. Zero value matches everything.
type Filter struct {
	// Kinds limits results to entries of any of the given kinds.
	Kinds []Kind
	// Sources limits results to entries from any of the given sources.
	Sources []Source
	// TargetID limits results to entries about the given target.
	TargetID string
	// TargetType limits results to entries about targets of the given type.
	TargetType string
	// Limit caps the number of entries returned. Zero means no cap.
	Limit int
}

func (f Filter) matches(entry Entry) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, kind := range f.Kinds {
			if entry.Kind == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Sources) > 0 {
		found := false
		for _, source := range f.Sources {
			if entry.Source == source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.TargetID != "" && entry.TargetID != f.TargetID {
		return false
	}
	if f.TargetType != "" && entry.TargetType != f.TargetType {
		return false
	}
	return true
}

// EntryOption attaches optional attributes to an entry at append time.
type EntryOption func(*Entry)

// WithSource overrides the default USER source.
func WithSource(source Source) EntryOption {
	return func(e *Entry) {
		e.Source = source
	}
}

// WithTarget associates the entry with a target, keying it into the rolling
// summary for that target. targetType names what the id refers to, such as
// "task" or "response".
func WithTarget(id, targetType string) EntryOption {
	return func(e *Entry) {
		e.TargetID = id
		e.TargetType = targetType
	}
}

// WithContext attaches free-form context captured alongside the feedback.
func WithContext(context map[string]any) EntryOption {
	return func(e *Entry) {
		e.Context = context
	}
}

// WithMetadata attaches caller metadata to the entry.
func WithMetadata(metadata map[string]any) EntryOption {
	return func(e *Entry) {
		e.Metadata = metadata
	}
}

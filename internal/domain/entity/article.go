// Package entity defines the core domain entities and validation logic for the application.
// It contains the fundamental business objects such as Article, Source, TaskRecord and
// TopicGroup, along with their validation rules and domain-specific errors.
package entity

import "time"

// SummaryStatus is the lifecycle state of an article's generated summary.
// It advances monotonically: absent -> processing -> (completed | failed),
// with failed -> processing allowed on re-enqueue.
type SummaryStatus string

const (
	SummaryStatusAbsent     SummaryStatus = "absent"
	SummaryStatusPending    SummaryStatus = "pending"
	SummaryStatusProcessing SummaryStatus = "processing"
	SummaryStatusCompleted  SummaryStatus = "completed"
	SummaryStatusFailed     SummaryStatus = "failed"
)

// IsValid reports whether s is one of the known summary states.
func (s SummaryStatus) IsValid() bool {
	switch s {
	case SummaryStatusAbsent, SummaryStatusPending, SummaryStatusProcessing, SummaryStatusCompleted, SummaryStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal summary
// state transition under the monotonic state machine in spec §3.
func (s SummaryStatus) CanTransitionTo(next SummaryStatus) bool {
	switch s {
	case SummaryStatusAbsent, SummaryStatusPending:
		return next == SummaryStatusProcessing
	case SummaryStatusProcessing:
		return next == SummaryStatusCompleted || next == SummaryStatusFailed
	case SummaryStatusFailed:
		return next == SummaryStatusProcessing
	case SummaryStatusCompleted:
		return false
	default:
		return false
	}
}

// Article represents a single news item, uniquely identified by its
// canonical URL. It carries readability metrics, the generated summary
// and its lifecycle state, and the two embedding vectors used for
// rolling and daily topic grouping.
type Article struct {
	ID       int64
	SourceID int64

	Title       string
	RawContent  string
	CleanedText string
	Host        string
	// Origin is the source feed URL the article was discovered from.
	Origin string
	URL    string

	PublishedAt time.Time
	// PublishedAtFlagged marks an article whose publication date was
	// derived from an ingest-time fallback (no date in the feed) or
	// whose re-scan reported a conflicting date; see DESIGN.md open
	// question #1.
	PublishedAtFlagged bool
	AnalyzedAt         time.Time

	Readability ReadabilityMetrics

	Summary        string
	SummaryStatus  SummaryStatus
	SummaryModel   string
	PromptVersion  string
	SummaryError   string
	SummaryUpdated time.Time

	ContentEmbedding   []float32
	ContentEmbedModel  string
	ContentEmbedUpdate time.Time

	SummaryEmbedding   []float32
	SummaryEmbedModel  string
	SummaryEmbedUpdate time.Time

	CreatedAt time.Time
}

// ReadabilityMetrics holds the flat scalar readability scores computed
// by the (out-of-core-scope) readability formula.
type ReadabilityMetrics struct {
	FleschReadingEase float64
	FleschKincaidGrade float64
	WordCount          int
	SentenceCount      int
}

// HasContentEmbedding reports whether a content embedding has been computed.
func (a *Article) HasContentEmbedding() bool {
	return len(a.ContentEmbedding) > 0
}

// HasSummaryEmbedding reports whether a summary embedding has been computed.
func (a *Article) HasSummaryEmbedding() bool {
	return len(a.SummaryEmbedding) > 0
}

// EligibleForRollingTopic reports whether the article can participate in
// rolling topic grouping: a content embedding must exist (spec §3 invariants).
func (a *Article) EligibleForRollingTopic() bool {
	return a.HasContentEmbedding()
}

// EligibleForDailyTopic reports whether the article can participate in
// daily topic grouping: a completed summary and a summary embedding
// must exist (spec §3 invariants, §4.6).
func (a *Article) EligibleForDailyTopic() bool {
	return a.SummaryStatus == SummaryStatusCompleted && a.HasSummaryEmbedding()
}

// ContentForAnalysis returns the text to use for embedding/summarization,
// preferring the cleaned text and falling back to raw content.
func (a *Article) ContentForAnalysis() string {
	if a.CleanedText != "" {
		return a.CleanedText
	}
	return a.RawContent
}

// Validate checks the Article invariants required before it can be
// persisted: a canonical URL and, if a summary is marked completed, a
// non-empty summary body and prompt version (spec §8 universal invariant).
func (a *Article) Validate() error {
	if err := ValidateURL(a.URL); err != nil {
		return err
	}
	if a.SummaryStatus != "" && !a.SummaryStatus.IsValid() {
		return &ValidationError{Field: "SummaryStatus", Message: "unknown summary status"}
	}
	if a.SummaryStatus == SummaryStatusCompleted {
		if a.Summary == "" {
			return &ValidationError{Field: "Summary", Message: "completed summary must be non-empty"}
		}
		if a.PromptVersion == "" {
			return &ValidationError{Field: "PromptVersion", Message: "completed summary must record a prompt version"}
		}
	}
	return nil
}

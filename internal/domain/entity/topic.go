package entity

import "time"

// SharedSummaryStatus mirrors SummaryStatus but for a topic group's
// combined summary, which goes through the same provider-gateway call.
type SharedSummaryStatus string

const (
	SharedSummaryAbsent     SharedSummaryStatus = "absent"
	SharedSummaryProcessing SharedSummaryStatus = "processing"
	SharedSummaryCompleted  SharedSummaryStatus = "completed"
	SharedSummaryFailed     SharedSummaryStatus = "failed"
)

// TopicMember is a denormalized reference to an article within a
// TopicGroup, carrying the similarity score that put it in the group.
type TopicMember struct {
	ArticleID  int64
	ArticleURL string
	Title      string
	Similarity float64
}

// TopicGroup is an ephemeral cluster of related articles, produced by
// either the rolling maintenance pipeline or the Daily-Topic Builder.
type TopicGroup struct {
	TopicID  string
	Articles []TopicMember

	SharedSummary       string
	SharedSummaryStatus SharedSummaryStatus

	Headline string

	CreatedAt time.Time

	// WindowStart/WindowEnd are set for daily topics; zero for rolling ones.
	WindowStart time.Time
	WindowEnd   time.Time
}

// ArticleCount returns the number of member articles.
func (g *TopicGroup) ArticleCount() int {
	return len(g.Articles)
}

// Validate checks that the group has a topic id and meets the minimum
// group size enforced by the caller (callers pass minGroupSize per the
// rolling vs. daily configuration in spec §6).
func (g *TopicGroup) Validate(minGroupSize int) error {
	if g.TopicID == "" {
		return &ValidationError{Field: "TopicID", Message: "topic id is required"}
	}
	if len(g.Articles) < minGroupSize {
		return &ValidationError{Field: "Articles", Message: "group does not meet minimum size"}
	}
	return nil
}

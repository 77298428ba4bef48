package store

import (
	"time"

	"github.com/google/uuid"
)

// Section is one retrievable unit of the knowledge base. Sections are
// created in bulk during reindexing and never mutated afterwards.
type Section struct {
	Header    string
	Body      string
	AnchorURL string
	NumTokens int
	Embedding []float32
}

// SectionMatch is a Section returned from a vector search together with its
// cosine similarity to the query (1 − distance, higher is better).
type SectionMatch struct {
	Section
	Similarity float64
}

// SectionRef points a reply back at a source section. AnchorURL is empty
// when the section has no deep link.
type SectionRef struct {
	Header    string `json:"header"`
	AnchorURL string `json:"anchor_url,omitempty"`
}

// Feedback values stored on an interaction.
const (
	FeedbackNotGiven   = "not given"
	FeedbackThumbsUp   = "thumbsup"
	FeedbackThumbsDown = "thumbsdown"
)

// Interaction is the audit record of one question/answer exchange. Every
// query writes one (except rejected input), with a short retention that is
// extended to 90 days when the user leaves feedback.
type Interaction struct {
	ID                 uuid.UUID
	Query              string
	Reply              string
	RequestDuration    time.Duration
	CompletionDuration time.Duration
	Feedback           string
	Comment            string
	FromCache          bool
	OriginalQuery      string
	CreatedAt          time.Time
}

// CacheHit is a semantic-cache entry returned from a nearest-neighbor
// lookup, with the similarity between the looked-up query and the stored one.
type CacheHit struct {
	Query      string
	Reply      string
	Sections   []SectionRef
	Similarity float64
}

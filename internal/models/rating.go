package models

import "time"

// RateeType discriminates the entities that can be rated.
type RateeType string

const (
	RateeJob         RateeType = "job"
	RateeCoordinator RateeType = "coordinator"
	RateeCompany     RateeType = "company"
	RateeApplicant   RateeType = "applicant"
)

// Rating contexts. Applicants carry no context enum; their context is always
// the implicit default.
const (
	ContextJobPost  = "job_post"
	ContextTeamPage = "team_page"
	ContextDefault  = "default"
)

// Rating is one rater's score of one ratee in one context. Re-submission for
// the same (rater, ratee, rateeType, context) tuple overwrites in place.
type Rating struct {
	ID        string    `json:"id"`
	RaterID   string    `json:"raterId"`
	RaterType ActorType `json:"raterType"` // user, coordinator or company
	RateeID   string    `json:"rateeId"`
	RateeType RateeType `json:"rateeType"`
	Context   string    `json:"context"`
	JobID     *string   `json:"jobId,omitempty"`
	Value     int       `json:"value"` // integer 1..5
	Review    string    `json:"review,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RatingAggregate is the materialized mean/count summary per ratee,
// recomputed synchronously on every write.
type RatingAggregate struct {
	RateeID   string    `json:"rateeId"`
	RateeType RateeType `json:"rateeType"`
	Average   float64   `json:"average"` // 2-decimal precision
	Count     int       `json:"count"`
}

// AllowedContexts returns the context values accepted for a ratee type.
func AllowedContexts(rateeType RateeType) []string {
	switch rateeType {
	case RateeJob:
		return []string{ContextJobPost}
	case RateeCoordinator, RateeCompany:
		return []string{ContextJobPost, ContextTeamPage}
	case RateeApplicant:
		return []string{ContextDefault}
	}
	return nil
}

// ValidRateeType reports whether t is a known ratee type.
func ValidRateeType(t RateeType) bool {
	switch t {
	case RateeJob, RateeCoordinator, RateeCompany, RateeApplicant:
		return true
	}
	return false
}

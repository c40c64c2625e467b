package models

import "time"

// ApplicationStatus is the closed set of job-application lifecycle states.
type ApplicationStatus string

const (
	StatusPending            ApplicationStatus = "pending"
	StatusQualified          ApplicationStatus = "qualified"
	StatusPendingReview      ApplicationStatus = "pending_review"
	StatusInterviewScheduled ApplicationStatus = "interview_scheduled"
	StatusInterviewCompleted ApplicationStatus = "interview_completed"
	StatusAccepted           ApplicationStatus = "accepted"
	StatusRejected           ApplicationStatus = "rejected"
	StatusHired              ApplicationStatus = "hired"
)

// InterviewMode selects how the interview is held; the mode dictates which
// of Location/Link is populated.
type InterviewMode string

const (
	InterviewOnsite InterviewMode = "onsite"
	InterviewOnline InterviewMode = "online"
)

// Interview sub-states tracked once an interview exists.
const (
	InterviewScheduled = "scheduled"
	InterviewCompleted = "completed"
	InterviewCancelled = "cancelled"
	InterviewNoShow    = "no_show"
)

// Interview is embedded in an Application from interview_scheduled onward.
type Interview struct {
	Date     time.Time     `json:"date"`
	Mode     InterviewMode `json:"mode"`
	Location string        `json:"location,omitempty"`
	Link     string        `json:"link,omitempty"`
	Notes    string        `json:"notes,omitempty"`
	Status   string        `json:"status"`
}

// Application is an applicant's submission against a Job.
type Application struct {
	ID          string            `json:"id"`
	JobID       string            `json:"jobId"`
	ApplicantID string            `json:"applicantId"`
	Status      ApplicationStatus `json:"status"`
	Interview   *Interview        `json:"interview,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// IsTerminal reports whether no further transitions are allowed.
func (s ApplicationStatus) IsTerminal() bool {
	return s == StatusRejected || s == StatusHired
}

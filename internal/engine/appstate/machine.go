// Package appstate owns the job-application lifecycle: one authoritative
// transition table, optimistic conditional updates, terminal-state
// enforcement.
package appstate

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"placement-engine/internal/common/errors"
	"placement-engine/internal/common/logger"
	"placement-engine/internal/common/metrics"
	"placement-engine/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Transition names, also used as metric labels and audit event suffixes.
const (
	TransitionQualify             = "qualify"
	TransitionSendToReview        = "send_to_review"
	TransitionAccept              = "accept"
	TransitionReject              = "reject"
	TransitionMarkCompleted       = "mark_completed"
	TransitionMarkNoShow          = "mark_no_show"
	TransitionHire                = "hire"
	TransitionPostInterviewReject = "post_interview_reject"
)

type transitionRule struct {
	from []models.ApplicationStatus
	to   models.ApplicationStatus
}

// transitions is the single authoritative table; handlers never decide
// allowed next states on their own.
var transitions = map[string]transitionRule{
	TransitionQualify: {
		from: []models.ApplicationStatus{models.StatusPending},
		to:   models.StatusQualified,
	},
	TransitionSendToReview: {
		from: []models.ApplicationStatus{models.StatusQualified},
		to:   models.StatusPendingReview,
	},
	// Acceptance is interview scheduling; there is no separate accept step
	// from a pre-interview state.
	TransitionAccept: {
		from: []models.ApplicationStatus{models.StatusPending, models.StatusQualified, models.StatusPendingReview},
		to:   models.StatusInterviewScheduled,
	},
	TransitionReject: {
		from: []models.ApplicationStatus{models.StatusPending, models.StatusQualified, models.StatusPendingReview},
		to:   models.StatusRejected,
	},
	TransitionMarkCompleted: {
		from: []models.ApplicationStatus{models.StatusInterviewScheduled},
		to:   models.StatusInterviewCompleted,
	},
	TransitionMarkNoShow: {
		from: []models.ApplicationStatus{models.StatusInterviewScheduled},
		to:   models.StatusInterviewCompleted,
	},
	TransitionHire: {
		from: []models.ApplicationStatus{models.StatusInterviewCompleted},
		to:   models.StatusHired,
	},
	TransitionPostInterviewReject: {
		from: []models.ApplicationStatus{models.StatusInterviewCompleted},
		to:   models.StatusRejected,
	},
}

// Machine executes lifecycle transitions against the applications table.
type Machine struct {
	db     *sql.DB
	logger logger.Logger
}

func NewMachine(db *sql.DB, log logger.Logger) *Machine {
	return &Machine{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "appstate"}),
	}
}

// Create inserts a fresh pending application for the applicant. A duplicate
// (job, applicant) pair is refused.
func (m *Machine) Create(ctx context.Context, jobID, applicantID string) (*models.Application, error) {
	now := time.Now().UTC()
	app := &models.Application{
		ID:          uuid.New().String(),
		JobID:       jobID,
		ApplicantID: applicantID,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO applications (id, job_id, applicant_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		app.ID, app.JobID, app.ApplicantID, app.Status, now,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == "23505" {
			return nil, errors.NewConflictError(
				fmt.Sprintf("applicant %s already applied to job %s", applicantID, jobID))
		}
		return nil, errors.NewDatabaseError("application insert", err)
	}

	m.logger.Info("application created", map[string]interface{}{
		"applicationId": app.ID,
		"jobId":         jobID,
		"applicantId":   applicantID,
	})
	return app, nil
}

// Get loads an application including embedded interview state.
func (m *Machine) Get(ctx context.Context, applicationID string) (*models.Application, error) {
	return m.get(ctx, m.db, applicationID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (m *Machine) get(ctx context.Context, q querier, applicationID string) (*models.Application, error) {
	var app models.Application
	var ivDate sql.NullTime
	var ivMode, ivLocation, ivLink, ivNotes, ivStatus sql.NullString

	err := q.QueryRowContext(ctx, `
		SELECT id, job_id, applicant_id, status,
		       interview_date, interview_mode, interview_location,
		       interview_link, interview_notes, interview_status,
		       created_at, updated_at
		FROM applications
		WHERE id = $1`, applicationID).Scan(
		&app.ID, &app.JobID, &app.ApplicantID, &app.Status,
		&ivDate, &ivMode, &ivLocation, &ivLink, &ivNotes, &ivStatus,
		&app.CreatedAt, &app.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("application", applicationID)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("application lookup", err)
	}

	// interview columns are populated together once scheduling happens
	if ivDate.Valid {
		app.Interview = &models.Interview{
			Date:     ivDate.Time,
			Mode:     models.InterviewMode(ivMode.String),
			Location: ivLocation.String,
			Link:     ivLink.String,
			Notes:    ivNotes.String,
			Status:   ivStatus.String,
		}
	}
	return &app, nil
}

// Accept schedules the interview and moves the application to
// interview_scheduled in one conditional write.
func (m *Machine) Accept(ctx context.Context, applicationID string, interview *models.Interview) (*models.Application, error) {
	if err := validateInterview(interview); err != nil {
		return nil, err
	}

	app, err := m.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := m.checkTransition(TransitionAccept, app.Status); err != nil {
		return nil, err
	}

	interview.Status = models.InterviewScheduled
	now := time.Now().UTC()
	res, err := m.db.ExecContext(ctx, `
		UPDATE applications
		SET status = $1, interview_date = $2, interview_mode = $3,
		    interview_location = $4, interview_link = $5,
		    interview_notes = $6, interview_status = $7, updated_at = $8
		WHERE id = $9 AND status = $10`,
		models.StatusInterviewScheduled, interview.Date, interview.Mode,
		nullable(interview.Location), nullable(interview.Link),
		interview.Notes, interview.Status, now,
		applicationID, app.Status,
	)
	if err != nil {
		return nil, errors.NewDatabaseError("application accept", err)
	}
	if err := m.settle(res, TransitionAccept, applicationID); err != nil {
		return nil, err
	}

	app.Status = models.StatusInterviewScheduled
	app.Interview = interview
	app.UpdatedAt = now
	return app, nil
}

// Reject finalizes a pre-interview application.
func (m *Machine) Reject(ctx context.Context, applicationID, reason string) (*models.Application, error) {
	return m.applySimple(ctx, TransitionReject, applicationID, reason, "")
}

// MarkCompleted records that the scheduled interview took place.
func (m *Machine) MarkCompleted(ctx context.Context, applicationID string) (*models.Application, error) {
	return m.applySimple(ctx, TransitionMarkCompleted, applicationID, "", models.InterviewCompleted)
}

// MarkNoShow records a missed interview; the application still advances to
// interview_completed so the owner can decide.
func (m *Machine) MarkNoShow(ctx context.Context, applicationID string) (*models.Application, error) {
	return m.applySimple(ctx, TransitionMarkNoShow, applicationID, "", models.InterviewNoShow)
}

// PostInterviewReject finalizes an application after the interview.
func (m *Machine) PostInterviewReject(ctx context.Context, applicationID, reason string) (*models.Application, error) {
	return m.applySimple(ctx, TransitionPostInterviewReject, applicationID, reason, "")
}

// Qualify marks a pending application as pre-screened.
func (m *Machine) Qualify(ctx context.Context, applicationID string) (*models.Application, error) {
	return m.applySimple(ctx, TransitionQualify, applicationID, "", "")
}

// SendToReview moves a qualified application into the review queue.
func (m *Machine) SendToReview(ctx context.Context, applicationID string) (*models.Application, error) {
	return m.applySimple(ctx, TransitionSendToReview, applicationID, "", "")
}

// Hire finalizes the application and creates its employment record inside
// one transaction, so a hired application always has exactly one record.
func (m *Machine) Hire(ctx context.Context, applicationID string, job *models.Job) (*models.Application, *models.EmploymentRecord, error) {
	app, err := m.Get(ctx, applicationID)
	if err != nil {
		return nil, nil, err
	}
	if err := m.checkTransition(TransitionHire, app.Status); err != nil {
		return nil, nil, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, errors.NewDatabaseError("hire begin", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE applications
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		models.StatusHired, now, applicationID, models.StatusInterviewCompleted,
	)
	if err != nil {
		return nil, nil, errors.NewDatabaseError("application hire", err)
	}
	if err := m.settle(res, TransitionHire, applicationID); err != nil {
		return nil, nil, err
	}

	record := &models.EmploymentRecord{
		ID:            uuid.New().String(),
		ApplicationID: applicationID,
		JobID:         job.ID,
		EmployerType:  job.CreatedByType,
		EmployerID:    job.CreatedByID,
		HiredDate:     now,
		Status:        models.EmploymentActive,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO employment_records (
			id, application_id, job_id, employer_type, employer_id,
			hired_date, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.ApplicationID, record.JobID,
		record.EmployerType, record.EmployerID, record.HiredDate, record.Status,
	)
	if err != nil {
		return nil, nil, errors.NewDatabaseError("employment record insert", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, errors.NewDatabaseError("hire commit", err)
	}

	metrics.TransitionsApplied.WithLabelValues(TransitionHire).Inc()
	m.logger.Info("application hired", map[string]interface{}{
		"applicationId":      applicationID,
		"employmentRecordId": record.ID,
		"employerId":         record.EmployerID,
	})

	app.Status = models.StatusHired
	app.UpdatedAt = now
	return app, record, nil
}

// applySimple runs a transition that only touches status (and optionally the
// interview sub-state and the decision reason).
func (m *Machine) applySimple(ctx context.Context, transition, applicationID, reason, interviewStatus string) (*models.Application, error) {
	app, err := m.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := m.checkTransition(transition, app.Status); err != nil {
		return nil, err
	}
	rule := transitions[transition]

	now := time.Now().UTC()
	var res sql.Result
	if interviewStatus != "" {
		res, err = m.db.ExecContext(ctx, `
			UPDATE applications
			SET status = $1, interview_status = $2, updated_at = $3
			WHERE id = $4 AND status = $5`,
			rule.to, interviewStatus, now, applicationID, app.Status,
		)
	} else {
		res, err = m.db.ExecContext(ctx, `
			UPDATE applications
			SET status = $1, decision_reason = $2, updated_at = $3
			WHERE id = $4 AND status = $5`,
			rule.to, nullable(reason), now, applicationID, app.Status,
		)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("application "+transition, err)
	}
	if err := m.settle(res, transition, applicationID); err != nil {
		return nil, err
	}

	metrics.TransitionsApplied.WithLabelValues(transition).Inc()
	m.logger.Info("application transitioned", map[string]interface{}{
		"applicationId": applicationID,
		"transition":    transition,
		"from":          app.Status,
		"to":            rule.to,
	})

	app.Status = rule.to
	app.UpdatedAt = now
	if interviewStatus != "" && app.Interview != nil {
		app.Interview.Status = interviewStatus
	}
	return app, nil
}

// checkTransition consults the table; terminal states are reported as
// finalized rather than merely invalid.
func (m *Machine) checkTransition(transition string, current models.ApplicationStatus) error {
	if current.IsTerminal() {
		metrics.TransitionsRejected.WithLabelValues(transition, string(errors.ErrCodeFinalizedState)).Inc()
		return errors.NewFinalizedStateError(string(current))
	}
	rule, ok := transitions[transition]
	if !ok {
		return errors.NewValidationError(fmt.Sprintf("unknown transition %q", transition))
	}
	for _, from := range rule.from {
		if current == from {
			return nil
		}
	}
	metrics.TransitionsRejected.WithLabelValues(transition, string(errors.ErrCodeInvalidState)).Inc()
	return errors.NewInvalidStateError(string(current),
		fmt.Sprintf("transition %s not allowed from %s", transition, current))
}

// settle converts a zero-row conditional update into a conflict: a
// concurrent decision won the race.
func (m *Machine) settle(res sql.Result, transition, applicationID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.NewDatabaseError("application "+transition, err)
	}
	if affected == 0 {
		metrics.TransitionsRejected.WithLabelValues(transition, string(errors.ErrCodeConflict)).Inc()
		return errors.NewConflictError(
			fmt.Sprintf("application %s was decided concurrently", applicationID))
	}
	return nil
}

// validateInterview enforces the strict either/or between location and link.
func validateInterview(interview *models.Interview) error {
	if interview == nil {
		return errors.NewValidationError("interview details are required")
	}
	if interview.Date.IsZero() {
		return errors.NewValidationError("interview date is required")
	}
	switch interview.Mode {
	case models.InterviewOnsite:
		if strings.TrimSpace(interview.Location) == "" {
			return errors.NewValidationError("onsite interviews require a location")
		}
		if interview.Link != "" {
			return errors.NewValidationError("onsite interviews must not carry a link")
		}
	case models.InterviewOnline:
		if interview.Location != "" {
			return errors.NewValidationError("online interviews must not carry a location")
		}
		parsed, err := url.ParseRequestURI(interview.Link)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return errors.NewValidationError("online interviews require a valid http(s) link")
		}
	default:
		return errors.NewValidationError(fmt.Sprintf("unknown interview mode %q", interview.Mode))
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

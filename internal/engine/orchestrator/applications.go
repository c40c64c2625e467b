package orchestrator

import (
	"context"
	"database/sql"
	"fmt"

	"placement-engine/internal/common/errors"
	"placement-engine/internal/models"
	"placement-engine/internal/notify"
)

// ApplicationView is what GET /applications/{id} returns: the application
// plus its employment record once hired.
type ApplicationView struct {
	Application      *models.Application      `json:"application"`
	EmploymentRecord *models.EmploymentRecord `json:"employmentRecord,omitempty"`
}

// SubmitApplication creates a pending application for the calling applicant
// and notifies the job owner.
func (o *Orchestrator) SubmitApplication(ctx context.Context, actor models.Actor, jobID string) (*models.Application, error) {
	if actor.Type != models.ActorApplicant {
		return nil, errors.NewAuthorizationError("only applicants may submit applications")
	}

	job, err := o.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	app, err := o.machine.Create(ctx, jobID, actor.ID)
	if err != nil {
		return nil, err
	}

	o.emitNotification(ctx, &notify.Input{
		RecipientID:   job.CreatedByID,
		RecipientType: job.CreatedByType,
		Type:          models.NotificationApplicationStatus,
		RelatedID:     app.ID,
		Priority:      "normal",
		Data: map[string]interface{}{
			"status": string(app.Status),
			"detail": fmt.Sprintf(" New application for %s.", job.Title),
		},
	})
	o.audit(ctx, actor, "application.submitted", "application", app.ID, map[string]interface{}{
		"jobId": jobID,
	})
	return app, nil
}

// GetApplication returns the current state for anyone with view access.
func (o *Orchestrator) GetApplication(ctx context.Context, actor models.Actor, applicationID string) (*ApplicationView, error) {
	app, err := o.machine.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	job, err := o.getJob(ctx, app.JobID)
	if err != nil {
		return nil, err
	}
	if err := o.authorizeView(ctx, actor, app, job); err != nil {
		return nil, err
	}

	view := &ApplicationView{Application: app}
	if app.Status == models.StatusHired {
		record, err := o.getEmploymentRecordByApplication(ctx, applicationID)
		if err != nil {
			return nil, err
		}
		view.EmploymentRecord = record
	}
	return view, nil
}

// ==========================
// Decisions (owner only)
// ==========================

func (o *Orchestrator) AcceptApplication(ctx context.Context, actor models.Actor, applicationID string, interview *models.Interview) (*models.Application, error) {
	app, err := o.loadForDecision(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}

	updated, err := o.machine.Accept(ctx, applicationID, interview)
	if err != nil {
		return nil, err
	}

	o.emitNotification(ctx, &notify.Input{
		RecipientID:   app.ApplicantID,
		RecipientType: models.ActorApplicant,
		Type:          models.NotificationInterviewReminder,
		RelatedID:     applicationID,
		Priority:      "high",
		Data: map[string]interface{}{
			"date": interview.Date.Format("2006-01-02 15:04 MST"),
			"mode": string(interview.Mode),
		},
	})
	o.audit(ctx, actor, "application.accepted", "application", applicationID, map[string]interface{}{
		"interviewMode": interview.Mode,
		"interviewDate": interview.Date,
	})
	return updated, nil
}

func (o *Orchestrator) RejectApplication(ctx context.Context, actor models.Actor, applicationID, reason string) (*models.Application, error) {
	app, err := o.loadForDecision(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}

	updated, err := o.machine.Reject(ctx, applicationID, reason)
	if err != nil {
		return nil, err
	}

	o.notifyStatus(ctx, app.ApplicantID, applicationID, updated.Status, reason)
	o.audit(ctx, actor, "application.rejected", "application", applicationID, map[string]interface{}{
		"reason": reason,
	})
	return updated, nil
}

func (o *Orchestrator) CompleteInterview(ctx context.Context, actor models.Actor, applicationID string) (*models.Application, error) {
	app, err := o.loadForDecision(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}

	updated, err := o.machine.MarkCompleted(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	o.notifyStatus(ctx, app.ApplicantID, applicationID, updated.Status, "")
	o.audit(ctx, actor, "application.interview_completed", "application", applicationID, nil)
	return updated, nil
}

func (o *Orchestrator) MarkNoShow(ctx context.Context, actor models.Actor, applicationID string) (*models.Application, error) {
	app, err := o.loadForDecision(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}

	updated, err := o.machine.MarkNoShow(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	o.notifyStatus(ctx, app.ApplicantID, applicationID, updated.Status, "interview was missed")
	o.audit(ctx, actor, "application.no_show", "application", applicationID, nil)
	return updated, nil
}

func (o *Orchestrator) HireApplicant(ctx context.Context, actor models.Actor, applicationID string) (*ApplicationView, error) {
	app, err := o.machine.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	job, err := o.getJob(ctx, app.JobID)
	if err != nil {
		return nil, err
	}
	if err := o.authorizeDecision(ctx, actor, job); err != nil {
		return nil, err
	}

	updated, record, err := o.machine.Hire(ctx, applicationID, job)
	if err != nil {
		return nil, err
	}

	o.notifyStatus(ctx, app.ApplicantID, applicationID, updated.Status, "congratulations")
	o.audit(ctx, actor, "application.hired", "application", applicationID, map[string]interface{}{
		"employmentRecordId": record.ID,
	})
	return &ApplicationView{Application: updated, EmploymentRecord: record}, nil
}

func (o *Orchestrator) PostInterviewReject(ctx context.Context, actor models.Actor, applicationID, reason string) (*models.Application, error) {
	app, err := o.loadForDecision(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}

	updated, err := o.machine.PostInterviewReject(ctx, applicationID, reason)
	if err != nil {
		return nil, err
	}

	o.notifyStatus(ctx, app.ApplicantID, applicationID, updated.Status, reason)
	o.audit(ctx, actor, "application.post_interview_rejected", "application", applicationID, map[string]interface{}{
		"reason": reason,
	})
	return updated, nil
}

func (o *Orchestrator) QualifyApplication(ctx context.Context, actor models.Actor, applicationID string) (*models.Application, error) {
	if _, err := o.loadForDecision(ctx, actor, applicationID); err != nil {
		return nil, err
	}

	updated, err := o.machine.Qualify(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	o.audit(ctx, actor, "application.qualified", "application", applicationID, nil)
	return updated, nil
}

func (o *Orchestrator) SendApplicationToReview(ctx context.Context, actor models.Actor, applicationID string) (*models.Application, error) {
	if _, err := o.loadForDecision(ctx, actor, applicationID); err != nil {
		return nil, err
	}

	updated, err := o.machine.SendToReview(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	o.audit(ctx, actor, "application.sent_to_review", "application", applicationID, nil)
	return updated, nil
}

// ==========================
// Helpers
// ==========================

// loadForDecision resolves the application and enforces the owner-only rule
// before any mutation is attempted.
func (o *Orchestrator) loadForDecision(ctx context.Context, actor models.Actor, applicationID string) (*models.Application, error) {
	app, err := o.machine.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	job, err := o.getJob(ctx, app.JobID)
	if err != nil {
		return nil, err
	}
	if err := o.authorizeDecision(ctx, actor, job); err != nil {
		return nil, err
	}
	return app, nil
}

func (o *Orchestrator) notifyStatus(ctx context.Context, applicantID, applicationID string, status models.ApplicationStatus, detail string) {
	data := map[string]interface{}{"status": string(status)}
	if detail != "" {
		data["detail"] = " " + detail
	}
	o.emitNotification(ctx, &notify.Input{
		RecipientID:   applicantID,
		RecipientType: models.ActorApplicant,
		Type:          models.NotificationApplicationStatus,
		RelatedID:     applicationID,
		Priority:      "normal",
		Data:          data,
	})
}

// emitNotification never fails the caller; the transition already happened.
func (o *Orchestrator) emitNotification(ctx context.Context, input *notify.Input) {
	if _, err := o.notifier.Notify(ctx, input); err != nil {
		o.logger.Warn("notification emit failed", map[string]interface{}{
			"recipientId": input.RecipientID,
			"type":        input.Type,
			"error":       err.Error(),
		})
	}
}

func (o *Orchestrator) getEmploymentRecordByApplication(ctx context.Context, applicationID string) (*models.EmploymentRecord, error) {
	var record models.EmploymentRecord
	var endDate sql.NullTime
	err := o.db.QueryRowContext(ctx, `
		SELECT id, application_id, job_id, employer_type, employer_id,
		       hired_date, status, contract_end_date
		FROM employment_records
		WHERE application_id = $1`, applicationID).Scan(
		&record.ID, &record.ApplicationID, &record.JobID,
		&record.EmployerType, &record.EmployerID,
		&record.HiredDate, &record.Status, &endDate,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("employment record for application", applicationID)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("employment record lookup", err)
	}
	if endDate.Valid {
		record.ContractEndDate = &endDate.Time
	}
	return &record, nil
}

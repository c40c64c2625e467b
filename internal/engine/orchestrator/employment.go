package orchestrator

import (
	"context"
	"database/sql"
	"time"

	"placement-engine/internal/common/errors"
	"placement-engine/internal/models"
)

// EndEmployment flips an active record to contract_ended. Only the employed
// applicant may do this, and only once.
func (o *Orchestrator) EndEmployment(ctx context.Context, actor models.Actor, recordID string) (*models.EmploymentRecord, error) {
	if actor.Type != models.ActorApplicant {
		return nil, errors.NewAuthorizationError("only the employed applicant may end a contract")
	}

	record, applicantID, err := o.getEmploymentRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if applicantID != actor.ID {
		return nil, errors.NewAuthorizationError("employment record belongs to another applicant")
	}

	now := time.Now().UTC()
	res, err := o.db.ExecContext(ctx, `
		UPDATE employment_records
		SET status = $1, contract_end_date = $2
		WHERE id = $3 AND status = $4`,
		models.EmploymentContractEnded, now, recordID, models.EmploymentActive,
	)
	if err != nil {
		return nil, errors.NewDatabaseError("employment end", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.NewDatabaseError("employment end", err)
	}
	if affected == 0 {
		return nil, errors.NewInvalidStateError(record.Status, "employment record is not active")
	}

	o.audit(ctx, actor, "employment.contract_ended", "employment_record", recordID, map[string]interface{}{
		"endedAt": now,
	})

	record.Status = models.EmploymentContractEnded
	record.ContractEndDate = &now
	return record, nil
}

// getEmploymentRecord also resolves the applicant through the application,
// since ownership of the record is derived, not stored.
func (o *Orchestrator) getEmploymentRecord(ctx context.Context, recordID string) (*models.EmploymentRecord, string, error) {
	var record models.EmploymentRecord
	var applicantID string
	var endDate sql.NullTime
	err := o.db.QueryRowContext(ctx, `
		SELECT er.id, er.application_id, er.job_id, er.employer_type, er.employer_id,
		       er.hired_date, er.status, er.contract_end_date, a.applicant_id
		FROM employment_records er
		JOIN applications a ON a.id = er.application_id
		WHERE er.id = $1`, recordID).Scan(
		&record.ID, &record.ApplicationID, &record.JobID,
		&record.EmployerType, &record.EmployerID,
		&record.HiredDate, &record.Status, &endDate, &applicantID,
	)
	if err == sql.ErrNoRows {
		return nil, "", errors.NewNotFoundError("employment record", recordID)
	}
	if err != nil {
		return nil, "", errors.NewDatabaseError("employment record lookup", err)
	}
	if endDate.Valid {
		record.ContractEndDate = &endDate.Time
	}
	return &record, applicantID, nil
}

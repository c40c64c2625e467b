package orchestrator

import (
	"context"
	"strconv"
	"testing"
	"time"

	"placement-engine/internal/common/config"
	"placement-engine/internal/common/errors"
	"placement-engine/internal/common/logger"
	"placement-engine/internal/engine/ratings"
	"placement-engine/internal/models"
	"placement-engine/internal/notify"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockNotifier struct {
	NotifyFunc    func(ctx context.Context, input *notify.Input) (*models.Notification, error)
	SendEmailFunc func(ctx context.Context, to, subject, body string) error

	notified []*notify.Input
	emails   []string
}

func (m *MockNotifier) Notify(ctx context.Context, input *notify.Input) (*models.Notification, error) {
	m.notified = append(m.notified, input)
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, input)
	}
	return &models.Notification{ID: "n-1"}, nil
}

func (m *MockNotifier) SendEmail(ctx context.Context, to, subject, body string) error {
	m.emails = append(m.emails, to)
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, to, subject, body)
	}
	return nil
}

// ==========================
// Test Helper Functions
// ==========================

func testOrchConfig() *config.Config {
	return &config.Config{
		Invitations: config.InvitationConfig{
			TTLDays:           7,
			MaxTokenRetries:   3,
			IssuePerHourLimit: 5,
		},
		Ratings: config.RatingConfig{
			AggregateCacheTTL: 300,
			HistoryPageSize:   50,
			HistoryPageMax:    200,
		},
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, sqlmock.Sqlmock, *miniredis.Miniredis, *MockNotifier) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	notifier := &MockNotifier{}
	orch := New(testOrchConfig(), db, rdb, notifier, logger.NewTestLogger(t))
	return orch, mock, mr, notifier
}

var (
	ownerActor     = models.Actor{ID: "company-009", Type: models.ActorCompany}
	coordActor     = models.Actor{ID: "coord-001", Type: models.ActorCoordinator}
	applicantActor = models.Actor{ID: "applicant-042", Type: models.ActorApplicant}
	strangerActor  = models.Actor{ID: "company-777", Type: models.ActorCompany}
)

func appRow(status models.ApplicationStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "job_id", "applicant_id", "status",
		"interview_date", "interview_mode", "interview_location",
		"interview_link", "interview_notes", "interview_status",
		"created_at", "updated_at",
	}).AddRow(
		"app-001", "job-007", "applicant-042", status,
		nil, nil, nil, nil, nil, nil,
		time.Now().UTC().Add(-time.Hour), time.Now().UTC(),
	)
}

func jobRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "title", "created_by_type", "created_by_id", "created_at",
	}).AddRow("job-007", "Junior Technician", "company", "company-009", time.Now().UTC())
}

func expectAppLookup(mock sqlmock.Sqlmock, status models.ApplicationStatus) {
	mock.ExpectQuery(`SELECT id, job_id, applicant_id, status`).
		WithArgs("app-001").
		WillReturnRows(appRow(status))
}

func expectJobLookup(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT id, title, created_by_type, created_by_id`).
		WithArgs("job-007").
		WillReturnRows(jobRow())
}

func expectAffiliation(mock sqlmock.Sqlmock, affiliated bool) {
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("coord-001", "company-009").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(affiliated))
}

func expectAudit(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`INSERT INTO audit_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

// ==========================
// Invitations
// ==========================

func TestOrchestrator_IssueInvitation_Success(t *testing.T) {
	orch, mock, _, notifier := newTestOrchestrator(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("biz@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO invitations`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectAudit(mock)

	inv, err := orch.IssueInvitation(context.Background(), coordActor, "biz@x.com", "join us")

	require.NoError(t, err)
	assert.Len(t, inv.Token, 8)
	assert.Equal(t, []string{"biz@x.com"}, notifier.emails)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_IssueInvitation_EmailFailureRollsBack(t *testing.T) {
	orch, mock, _, notifier := newTestOrchestrator(t)
	notifier.SendEmailFunc = func(_ context.Context, _, _, _ string) error {
		return assert.AnError
	}

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("biz@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO invitations`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DELETE FROM invitations`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := orch.IssueInvitation(context.Background(), coordActor, "biz@x.com", "join us")

	assert.True(t, errors.IsCode(err, errors.ErrCodeEmailSendFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_IssueInvitation_CoordinatorsOnly(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t)

	_, err := orch.IssueInvitation(context.Background(), ownerActor, "biz@x.com", "")

	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthorizationFailed))
}

func TestOrchestrator_IssueInvitation_RateLimited(t *testing.T) {
	orch, _, mr, _ := newTestOrchestrator(t)

	// window counter already at the cap
	require.NoError(t, mr.Set("invite:rate:coord-001", strconv.Itoa(5)))

	_, err := orch.IssueInvitation(context.Background(), coordActor, "biz@x.com", "")

	assert.True(t, errors.IsCode(err, errors.ErrCodeRateLimited))
}

// ==========================
// Decision authorization
// ==========================

func TestOrchestrator_Reject_AffiliatedCoordinatorCannotDecide(t *testing.T) {
	orch, mock, _, _ := newTestOrchestrator(t)

	expectAppLookup(mock, models.StatusPendingReview)
	expectJobLookup(mock)
	expectAffiliation(mock, true)

	_, err := orch.RejectApplication(context.Background(), coordActor, "app-001", "no fit")

	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthorizationFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_Reject_StrangerCannotDecide(t *testing.T) {
	orch, mock, _, _ := newTestOrchestrator(t)

	expectAppLookup(mock, models.StatusPendingReview)
	expectJobLookup(mock)

	_, err := orch.RejectApplication(context.Background(), strangerActor, "app-001", "no fit")

	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthorizationFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_Reject_OwnerSucceedsAndNotifies(t *testing.T) {
	orch, mock, _, notifier := newTestOrchestrator(t)

	expectAppLookup(mock, models.StatusPendingReview)
	expectJobLookup(mock)
	// state machine re-reads before its conditional write
	expectAppLookup(mock, models.StatusPendingReview)
	mock.ExpectExec(`UPDATE applications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAudit(mock)

	app, err := orch.RejectApplication(context.Background(), ownerActor, "app-001", "no fit")

	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, app.Status)
	require.Len(t, notifier.notified, 1)
	assert.Equal(t, "applicant-042", notifier.notified[0].RecipientID)
	assert.Equal(t, models.NotificationApplicationStatus, notifier.notified[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_Reject_NotificationFailureIsNonFatal(t *testing.T) {
	orch, mock, _, notifier := newTestOrchestrator(t)
	notifier.NotifyFunc = func(_ context.Context, _ *notify.Input) (*models.Notification, error) {
		return nil, assert.AnError
	}

	expectAppLookup(mock, models.StatusPendingReview)
	expectJobLookup(mock)
	expectAppLookup(mock, models.StatusPendingReview)
	mock.ExpectExec(`UPDATE applications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAudit(mock)

	app, err := orch.RejectApplication(context.Background(), ownerActor, "app-001", "no fit")

	require.NoError(t, err, "transition survives a failed notification")
	assert.Equal(t, models.StatusRejected, app.Status)
}

// ==========================
// Hire
// ==========================

func TestOrchestrator_Hire_CreatesEmploymentRecord(t *testing.T) {
	orch, mock, _, notifier := newTestOrchestrator(t)

	expectAppLookup(mock, models.StatusInterviewCompleted)
	expectJobLookup(mock)
	expectAppLookup(mock, models.StatusInterviewCompleted)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE applications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO employment_records`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	expectAudit(mock)

	view, err := orch.HireApplicant(context.Background(), ownerActor, "app-001")

	require.NoError(t, err)
	assert.Equal(t, models.StatusHired, view.Application.Status)
	require.NotNil(t, view.EmploymentRecord)
	assert.Equal(t, models.EmploymentActive, view.EmploymentRecord.Status)
	assert.Equal(t, "company-009", view.EmploymentRecord.EmployerID)
	require.Len(t, notifier.notified, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_Hire_SecondCallIsFinalized(t *testing.T) {
	orch, mock, _, _ := newTestOrchestrator(t)

	expectAppLookup(mock, models.StatusHired)
	expectJobLookup(mock)
	expectAppLookup(mock, models.StatusHired)

	_, err := orch.HireApplicant(context.Background(), ownerActor, "app-001")

	assert.True(t, errors.IsCode(err, errors.ErrCodeFinalizedState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Submit / view
// ==========================

func TestOrchestrator_SubmitApplication_ApplicantsOnly(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t)

	_, err := orch.SubmitApplication(context.Background(), ownerActor, "job-007")

	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthorizationFailed))
}

func TestOrchestrator_SubmitApplication_NotifiesOwner(t *testing.T) {
	orch, mock, _, notifier := newTestOrchestrator(t)

	expectJobLookup(mock)
	mock.ExpectExec(`INSERT INTO applications`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectAudit(mock)

	app, err := orch.SubmitApplication(context.Background(), applicantActor, "job-007")

	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, app.Status)
	require.Len(t, notifier.notified, 1)
	assert.Equal(t, "company-009", notifier.notified[0].RecipientID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_GetApplication_AffiliatedCoordinatorMayView(t *testing.T) {
	orch, mock, _, _ := newTestOrchestrator(t)

	expectAppLookup(mock, models.StatusPendingReview)
	expectJobLookup(mock)
	expectAffiliation(mock, true)

	view, err := orch.GetApplication(context.Background(), coordActor, "app-001")

	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingReview, view.Application.Status)
	assert.Nil(t, view.EmploymentRecord)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Ratings
// ==========================

func TestOrchestrator_SubmitRating_RejectsImpersonation(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t)

	_, err := orch.SubmitRating(context.Background(), coordActor, &ratings.SubmitInput{
		RaterID:   "someone-else",
		RateeID:   "company-009",
		RateeType: models.RateeCompany,
		Context:   models.ContextTeamPage,
		Value:     4,
	})

	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthorizationFailed))
}

func TestOrchestrator_SubmitRating_ApplicantsCannotRate(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t)

	_, err := orch.SubmitRating(context.Background(), applicantActor, &ratings.SubmitInput{
		RateeID:   "company-009",
		RateeType: models.RateeCompany,
		Context:   models.ContextTeamPage,
		Value:     4,
	})

	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthorizationFailed))
}

// ==========================
// Employment
// ==========================

func employmentRow(status, applicantID string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "application_id", "job_id", "employer_type", "employer_id",
		"hired_date", "status", "contract_end_date", "applicant_id",
	}).AddRow(
		"emp-001", "app-001", "job-007", "company", "company-009",
		time.Now().UTC().Add(-30*24*time.Hour), status, nil, applicantID,
	)
}

func TestOrchestrator_EndEmployment_Success(t *testing.T) {
	orch, mock, _, _ := newTestOrchestrator(t)

	mock.ExpectQuery(`SELECT er.id`).
		WithArgs("emp-001").
		WillReturnRows(employmentRow(models.EmploymentActive, "applicant-042"))
	mock.ExpectExec(`UPDATE employment_records`).
		WithArgs(models.EmploymentContractEnded, sqlmock.AnyArg(), "emp-001", models.EmploymentActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAudit(mock)

	record, err := orch.EndEmployment(context.Background(), applicantActor, "emp-001")

	require.NoError(t, err)
	assert.Equal(t, models.EmploymentContractEnded, record.Status)
	require.NotNil(t, record.ContractEndDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_EndEmployment_WrongApplicant(t *testing.T) {
	orch, mock, _, _ := newTestOrchestrator(t)

	mock.ExpectQuery(`SELECT er.id`).
		WithArgs("emp-001").
		WillReturnRows(employmentRow(models.EmploymentActive, "applicant-999"))

	_, err := orch.EndEmployment(context.Background(), applicantActor, "emp-001")

	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthorizationFailed))
}

func TestOrchestrator_EndEmployment_AlreadyEnded(t *testing.T) {
	orch, mock, _, _ := newTestOrchestrator(t)

	mock.ExpectQuery(`SELECT er.id`).
		WithArgs("emp-001").
		WillReturnRows(employmentRow(models.EmploymentContractEnded, "applicant-042"))
	mock.ExpectExec(`UPDATE employment_records`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := orch.EndEmployment(context.Background(), applicantActor, "emp-001")

	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
}

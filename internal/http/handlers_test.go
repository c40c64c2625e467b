package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"placement-engine/internal/common/config"
	"placement-engine/internal/common/logger"
	"placement-engine/internal/engine/orchestrator"
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

type stubNotifier struct{}

func (stubNotifier) Notify(context.Context, *notify.Input) (*models.Notification, error) {
	return &models.Notification{ID: "n-1"}, nil
}

func (stubNotifier) SendEmail(context.Context, string, string, string) error {
	return nil
}

// ==========================
// Test Helper Functions
// ==========================

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{Address: "127.0.0.1:0", ReadTimeout: 10000, WriteTimeout: 10000},
		Invitations: config.InvitationConfig{
			TTLDays:         7,
			MaxTokenRetries: 3,
		},
		Ratings: config.RatingConfig{
			HistoryPageSize: 50,
			HistoryPageMax:  200,
		},
	}
	log := logger.NewTestLogger(t)
	orch := orchestrator.New(cfg, db, rdb, stubNotifier{}, log)
	return NewServer(cfg, orch, log), mock
}

func doRequest(srv *Server, method, path, body string, actor *models.Actor) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor != nil {
		req.Header.Set("X-Actor-ID", actor.ID)
		req.Header.Set("X-Actor-Type", string(actor.Type))
	}
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

var httpOwner = models.Actor{ID: "company-009", Type: models.ActorCompany}

// ==========================
// Identity middleware
// ==========================

func TestServer_MissingActorIsForbidden(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/applications", `{"jobId":"job-007"}`, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "AUTHORIZATION_FAILED", decodeResponse(t, rec)["code"])
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// ==========================
// Ratings
// ==========================

func TestServer_SubmitRating_RejectsFractionalValue(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/ratings",
		`{"rateeId":"job-007","rateeType":"job","context":"job_post","value":4.5}`,
		&models.Actor{ID: "user-003", Type: models.ActorUser})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", decodeResponse(t, rec)["code"])
}

func TestServer_SubmitRating_Success(t *testing.T) {
	srv, mock := newTestServer(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ratings`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT COALESCE`).
		WillReturnRows(sqlmock.NewRows([]string{"avg", "count"}).AddRow(4.0, 2))
	mock.ExpectExec(`INSERT INTO rating_aggregates`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO audit_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := doRequest(srv, http.MethodPost, "/ratings",
		`{"rateeId":"job-007","rateeType":"job","context":"job_post","value":4}`,
		&models.Actor{ID: "user-003", Type: models.ActorUser})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	payload := decodeResponse(t, rec)
	assert.Equal(t, 4.0, payload["average"])
	assert.Equal(t, 2.0, payload["count"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServer_GetRatings_UnknownTypeRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/ratings/spaceship/x-1", "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ==========================
// Invitations
// ==========================

func TestServer_ValidateInvitation_UsedTokenReportsReason(t *testing.T) {
	srv, mock := newTestServer(t)

	// lazy sweep, then lookup
	mock.ExpectExec(`UPDATE invitations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT`).
		WithArgs("12345678").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "issuer_id", "target_email", "message", "token",
			"status", "created_at", "expires_at", "used_at", "resulting_company_id",
		}).AddRow(
			"inv-001", "coord-001", "biz@x.com", "", "12345678",
			models.InvitationUsed, time.Now().UTC(), time.Now().UTC().Add(24*time.Hour),
			time.Now().UTC(), "company-055",
		))

	rec := doRequest(srv, http.MethodGet, "/invitations/12345678", "", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeResponse(t, rec)
	assert.Equal(t, "INVALID_STATE", payload["code"])
	assert.Equal(t, "used", payload["reason"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServer_IssueInvitation_BadEmailRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/invitations",
		`{"targetEmail":"not-an-email"}`,
		&models.Actor{ID: "coord-001", Type: models.ActorCoordinator})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ==========================
// Applications
// ==========================

func TestServer_Accept_BadModeRejectedBySchema(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/applications/app-001/accept",
		`{"date":"2026-09-10T10:00:00Z","mode":"telepathy","location":"HQ"}`,
		&httpOwner)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Reject_FullPath(t *testing.T) {
	srv, mock := newTestServer(t)

	appCols := []string{
		"id", "job_id", "applicant_id", "status",
		"interview_date", "interview_mode", "interview_location",
		"interview_link", "interview_notes", "interview_status",
		"created_at", "updated_at",
	}
	appRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(appCols).AddRow(
			"app-001", "job-007", "applicant-042", models.StatusPendingReview,
			nil, nil, nil, nil, nil, nil,
			time.Now().UTC(), time.Now().UTC(),
		)
	}

	mock.ExpectQuery(`SELECT id, job_id`).WithArgs("app-001").WillReturnRows(appRow())
	mock.ExpectQuery(`SELECT id, title`).WithArgs("job-007").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "title", "created_by_type", "created_by_id", "created_at",
		}).AddRow("job-007", "Junior Technician", "company", "company-009", time.Now().UTC()))
	mock.ExpectQuery(`SELECT id, job_id`).WithArgs("app-001").WillReturnRows(appRow())
	mock.ExpectExec(`UPDATE applications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := doRequest(srv, http.MethodPost, "/applications/app-001/reject",
		`{"reason":"position filled"}`, &httpOwner)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	payload := decodeResponse(t, rec)
	assert.Equal(t, "rejected", payload["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

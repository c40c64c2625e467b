package ratings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"placement-engine/internal/common/errors"
	"placement-engine/internal/common/logger"
	"placement-engine/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func setupRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ledger := NewLedger(&Config{
		AggregateCacheTTL: time.Minute,
		HistoryPageSize:   50,
		HistoryPageMax:    200,
	}, db, setupRedis(t), logger.NewTestLogger(t))
	return ledger, mock
}

func validInput() *SubmitInput {
	return &SubmitInput{
		RaterID:   "user-003",
		RaterType: models.ActorUser,
		RateeID:   "job-007",
		RateeType: models.RateeJob,
		Context:   models.ContextJobPost,
		Value:     5,
	}
}

func expectSubmitTx(mock sqlmock.Sqlmock, average float64, count int) {
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ratings`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT COALESCE\(AVG\(value\), 0\), COUNT\(\*\)`).
		WithArgs("job-007", models.RateeJob).
		WillReturnRows(sqlmock.NewRows([]string{"avg", "count"}).AddRow(average, count))
	mock.ExpectExec(`INSERT INTO rating_aggregates`).
		WithArgs("job-007", models.RateeJob, average, count).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

// ==========================
// Submit
// ==========================

func TestLedger_Submit_ReturnsFreshAggregate(t *testing.T) {
	ledger, mock := newTestLedger(t)
	expectSubmitTx(mock, 4.5, 2)

	agg, err := ledger.Submit(context.Background(), validInput())

	require.NoError(t, err)
	assert.Equal(t, 4.5, agg.Average)
	assert.Equal(t, 2, agg.Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Submit_UpsertKeepsSingleRow(t *testing.T) {
	ledger, mock := newTestLedger(t)

	// First submission: value 5, one row.
	expectSubmitTx(mock, 5.0, 1)
	agg, err := ledger.Submit(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, 5.0, agg.Average)
	assert.Equal(t, 1, agg.Count)

	// Re-submission of the same tuple overwrites in place: the aggregate
	// reflects the new value over an unchanged row count.
	expectSubmitTx(mock, 2.0, 1)
	input := validInput()
	input.Value = 2
	agg, err = ledger.Submit(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 2.0, agg.Average)
	assert.Equal(t, 1, agg.Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Submit_RejectsOutOfRangeValue(t *testing.T) {
	ledger, _ := newTestLedger(t)

	for _, value := range []int{0, 6, -1} {
		input := validInput()
		input.Value = value
		_, err := ledger.Submit(context.Background(), input)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))
	}
}

func TestLedger_Submit_RejectsBadContext(t *testing.T) {
	ledger, _ := newTestLedger(t)

	input := validInput()
	input.Context = models.ContextTeamPage // jobs accept job_post only

	_, err := ledger.Submit(context.Background(), input)

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))
}

func TestLedger_Submit_ApplicantContextIsImplicit(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ratings`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT COALESCE\(AVG\(value\), 0\), COUNT\(\*\)`).
		WithArgs("applicant-001", models.RateeApplicant).
		WillReturnRows(sqlmock.NewRows([]string{"avg", "count"}).AddRow(4.0, 1))
	mock.ExpectExec(`INSERT INTO rating_aggregates`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	input := &SubmitInput{
		RaterID:   "company-001",
		RaterType: models.ActorCompany,
		RateeID:   "applicant-001",
		RateeType: models.RateeApplicant,
		Context:   "whatever the caller sent",
		Value:     4,
	}
	_, err := ledger.Submit(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, models.ContextDefault, input.Context)
}

// ==========================
// AggregateFor
// ==========================

func TestLedger_AggregateFor_ZeroState(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectQuery(`SELECT average, count`).
		WithArgs("job-042", models.RateeJob).
		WillReturnRows(sqlmock.NewRows([]string{"average", "count"}))

	agg, err := ledger.AggregateFor(context.Background(), "job-042", models.RateeJob)

	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, 0.0, agg.Average)
	assert.Equal(t, 0, agg.Count)
}

func TestLedger_AggregateFor_PopulatesCacheOnRead(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectQuery(`SELECT average, count`).
		WithArgs("job-007", models.RateeJob).
		WillReturnRows(sqlmock.NewRows([]string{"average", "count"}).AddRow(3.67, 3))

	agg, err := ledger.AggregateFor(context.Background(), "job-007", models.RateeJob)
	require.NoError(t, err)
	assert.Equal(t, 3.67, agg.Average)

	// Second read has no SELECT expectation: it must come from the cache
	// the first read populated.
	agg, err = ledger.AggregateFor(context.Background(), "job-007", models.RateeJob)
	require.NoError(t, err)
	assert.Equal(t, 3.67, agg.Average)
	assert.Equal(t, 3, agg.Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Submit_EvictsStaleCachedAggregate(t *testing.T) {
	ledger, mock := newTestLedger(t)

	// A slow concurrent writer left an outdated aggregate in the cache.
	stale, err := json.Marshal(&models.RatingAggregate{
		RateeID: "job-007", RateeType: models.RateeJob, Average: 5.0, Count: 1,
	})
	require.NoError(t, err)
	require.NoError(t, ledger.redis.Set(context.Background(),
		aggregateCacheKey("job-007", models.RateeJob), stale, time.Minute).Err())

	expectSubmitTx(mock, 3.5, 2)
	_, err = ledger.Submit(context.Background(), validInput())
	require.NoError(t, err)

	// The submit evicts the entry, so the read goes back to the table and
	// serves the committed mean, not the leftover value.
	mock.ExpectQuery(`SELECT average, count`).
		WithArgs("job-007", models.RateeJob).
		WillReturnRows(sqlmock.NewRows([]string{"average", "count"}).AddRow(3.5, 2))

	agg, err := ledger.AggregateFor(context.Background(), "job-007", models.RateeJob)
	require.NoError(t, err)
	assert.Equal(t, 3.5, agg.Average)
	assert.Equal(t, 2, agg.Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// History
// ==========================

func TestLedger_History_NewestFirstWithClampedLimit(t *testing.T) {
	ledger, mock := newTestLedger(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "rater_id", "rater_type", "ratee_id", "ratee_type",
		"context", "job_id", "value", "review", "created_at", "updated_at",
	}).
		AddRow("r2", "user-2", models.ActorUser, "job-007", models.RateeJob,
			models.ContextJobPost, nil, 4, "", now, now).
		AddRow("r1", "user-1", models.ActorUser, "job-007", models.RateeJob,
			models.ContextJobPost, nil, 5, "great team", now.Add(-time.Hour), now.Add(-time.Hour))

	mock.ExpectQuery(`ORDER BY created_at DESC`).
		WithArgs("job-007", models.RateeJob, 200, 0).
		WillReturnRows(rows)

	history, err := ledger.History(context.Background(), "job-007", models.RateeJob, 10_000, -5)

	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "r2", history[0].ID)
	assert.Equal(t, "great team", history[1].Review)
}

func TestLedger_History_EmptyIsNotNil(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectQuery(`ORDER BY created_at DESC`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "rater_id", "rater_type", "ratee_id", "ratee_type",
			"context", "job_id", "value", "review", "created_at", "updated_at",
		}))

	history, err := ledger.History(context.Background(), "job-007", models.RateeJob, 0, 0)

	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

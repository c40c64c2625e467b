// Package ratings records ratings and maintains per-ratee aggregates.
package ratings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"placement-engine/internal/common/errors"
	"placement-engine/internal/common/logger"
	"placement-engine/internal/common/metrics"
	"placement-engine/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	AggregateCacheTTL time.Duration
	HistoryPageSize   int
	HistoryPageMax    int
}

// Ledger owns the ratings and rating_aggregates tables. One generic ledger
// serves every ratee kind; the (rateeId, rateeType) pair is the key.
type Ledger struct {
	config *Config
	db     *sql.DB
	redis  *redis.Client
	logger logger.Logger
}

func NewLedger(config *Config, db *sql.DB, rdb *redis.Client, log logger.Logger) *Ledger {
	if config.AggregateCacheTTL == 0 {
		config.AggregateCacheTTL = 5 * time.Minute
	}
	if config.HistoryPageSize == 0 {
		config.HistoryPageSize = 50
	}
	if config.HistoryPageMax == 0 {
		config.HistoryPageMax = 200
	}
	return &Ledger{
		config: config,
		db:     db,
		redis:  rdb,
		logger: log.WithFields(map[string]interface{}{"component": "ratings"}),
	}
}

// SubmitInput carries one rater's score for one ratee.
type SubmitInput struct {
	RaterID   string
	RaterType models.ActorType
	RateeID   string
	RateeType models.RateeType
	Context   string
	Value     int
	Review    string
	JobID     *string
}

// Submit upserts the rating keyed by (rater, ratee, rateeType, context) and
// recomputes the ratee's aggregate inside the same transaction, so a
// concurrent reader never observes a stale average. The fresh aggregate is
// returned so callers can display it without a second read.
func (l *Ledger) Submit(ctx context.Context, input *SubmitInput) (*models.RatingAggregate, error) {
	if err := l.validate(input); err != nil {
		return nil, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewDatabaseError("rating submit begin", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ratings (
			id, rater_id, rater_type, ratee_id, ratee_type,
			context, job_id, value, review, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (rater_id, ratee_id, ratee_type, context)
		DO UPDATE SET value = EXCLUDED.value,
		              review = EXCLUDED.review,
		              job_id = EXCLUDED.job_id,
		              updated_at = EXCLUDED.updated_at`,
		uuid.New().String(), input.RaterID, input.RaterType,
		input.RateeID, input.RateeType, input.Context,
		input.JobID, input.Value, input.Review, now,
	)
	if err != nil {
		return nil, errors.NewDatabaseError("rating upsert", err)
	}

	// Recompute from all rows for the ratee; the transaction's isolation
	// level fences concurrent raters rather than application locks.
	agg := &models.RatingAggregate{RateeID: input.RateeID, RateeType: input.RateeType}
	var avg sql.NullFloat64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(value), 0), COUNT(*)
		FROM ratings
		WHERE ratee_id = $1 AND ratee_type = $2`,
		input.RateeID, input.RateeType).Scan(&avg, &agg.Count)
	if err != nil {
		return nil, errors.NewDatabaseError("aggregate recompute", err)
	}
	agg.Average = round2(avg.Float64)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rating_aggregates (ratee_id, ratee_type, average, count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ratee_id, ratee_type)
		DO UPDATE SET average = EXCLUDED.average, count = EXCLUDED.count`,
		agg.RateeID, agg.RateeType, agg.Average, agg.Count,
	)
	if err != nil {
		return nil, errors.NewDatabaseError("aggregate persist", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewDatabaseError("rating submit commit", err)
	}

	metrics.RatingsSubmitted.WithLabelValues(string(input.RateeType)).Inc()

	// Invalidate rather than populate: two writers' SETs can land in the
	// wrong order and pin a stale average for the cache TTL, while deletes
	// converge under any interleaving. The next read repopulates from the
	// authoritative row.
	l.invalidateAggregate(ctx, input.RateeID, input.RateeType)

	l.logger.Info("rating submitted", map[string]interface{}{
		"raterId":   input.RaterID,
		"rateeId":   input.RateeID,
		"rateeType": input.RateeType,
		"value":     input.Value,
		"average":   agg.Average,
		"count":     agg.Count,
	})
	return agg, nil
}

// AggregateFor returns the materialized aggregate. A ratee with no ratings
// yields the explicit zero aggregate, never a nil.
func (l *Ledger) AggregateFor(ctx context.Context, rateeID string, rateeType models.RateeType) (*models.RatingAggregate, error) {
	if cached := l.cachedAggregate(ctx, rateeID, rateeType); cached != nil {
		return cached, nil
	}

	agg := &models.RatingAggregate{RateeID: rateeID, RateeType: rateeType}
	err := l.db.QueryRowContext(ctx, `
		SELECT average, count
		FROM rating_aggregates
		WHERE ratee_id = $1 AND ratee_type = $2`,
		rateeID, rateeType).Scan(&agg.Average, &agg.Count)
	if err == sql.ErrNoRows {
		return agg, nil
	}
	if err != nil {
		return nil, errors.NewDatabaseError("aggregate lookup", err)
	}

	l.cacheAggregate(ctx, agg)
	return agg, nil
}

// History returns the ratee's ratings newest first.
func (l *Ledger) History(ctx context.Context, rateeID string, rateeType models.RateeType, limit, offset int) ([]models.Rating, error) {
	if limit <= 0 {
		limit = l.config.HistoryPageSize
	}
	if limit > l.config.HistoryPageMax {
		limit = l.config.HistoryPageMax
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, rater_id, rater_type, ratee_id, ratee_type,
		       context, job_id, value, review, created_at, updated_at
		FROM ratings
		WHERE ratee_id = $1 AND ratee_type = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		rateeID, rateeType, limit, offset)
	if err != nil {
		return nil, errors.NewDatabaseError("rating history", err)
	}
	defer rows.Close()

	history := []models.Rating{}
	for rows.Next() {
		var r models.Rating
		var jobID sql.NullString
		if err := rows.Scan(
			&r.ID, &r.RaterID, &r.RaterType, &r.RateeID, &r.RateeType,
			&r.Context, &jobID, &r.Value, &r.Review, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, errors.NewDatabaseError("rating history scan", err)
		}
		if jobID.Valid {
			r.JobID = &jobID.String
		}
		history = append(history, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("rating history", err)
	}
	return history, nil
}

func (l *Ledger) validate(input *SubmitInput) error {
	if input.Value < 1 || input.Value > 5 {
		return errors.NewValidationError(
			fmt.Sprintf("value must be an integer between 1 and 5, got %d", input.Value))
	}
	if !models.ValidRateeType(input.RateeType) {
		return errors.NewValidationError(fmt.Sprintf("unknown ratee type %q", input.RateeType))
	}

	// Applicants carry no caller-visible context; it is always implicit.
	if input.RateeType == models.RateeApplicant {
		input.Context = models.ContextDefault
		return nil
	}
	for _, allowed := range models.AllowedContexts(input.RateeType) {
		if input.Context == allowed {
			return nil
		}
	}
	return errors.NewValidationError(
		fmt.Sprintf("context %q not allowed for ratee type %q", input.Context, input.RateeType))
}

func aggregateCacheKey(rateeID string, rateeType models.RateeType) string {
	return fmt.Sprintf("rating:agg:%s:%s", rateeType, rateeID)
}

// Cache writes are best effort; the database row is the source of truth.
func (l *Ledger) cacheAggregate(ctx context.Context, agg *models.RatingAggregate) {
	if l.redis == nil {
		return
	}
	payload, err := json.Marshal(agg)
	if err != nil {
		return
	}
	if err := l.redis.Set(ctx, aggregateCacheKey(agg.RateeID, agg.RateeType), payload, l.config.AggregateCacheTTL).Err(); err != nil {
		l.logger.Warn("aggregate cache write failed", map[string]interface{}{
			"rateeId": agg.RateeID,
			"error":   err,
		})
	}
}

func (l *Ledger) invalidateAggregate(ctx context.Context, rateeID string, rateeType models.RateeType) {
	if l.redis == nil {
		return
	}
	if err := l.redis.Del(ctx, aggregateCacheKey(rateeID, rateeType)).Err(); err != nil {
		l.logger.Warn("aggregate cache invalidation failed", map[string]interface{}{
			"rateeId": rateeID,
			"error":   err,
		})
	}
}

func (l *Ledger) cachedAggregate(ctx context.Context, rateeID string, rateeType models.RateeType) *models.RatingAggregate {
	if l.redis == nil {
		return nil
	}
	payload, err := l.redis.Get(ctx, aggregateCacheKey(rateeID, rateeType)).Result()
	if err != nil {
		return nil
	}
	var agg models.RatingAggregate
	if err := json.Unmarshal([]byte(payload), &agg); err != nil {
		return nil
	}
	return &agg
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Package tokenstore issues and redeems single-use company invitation codes.
package tokenstore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"placement-engine/internal/common/errors"
	"placement-engine/internal/common/logger"
	"placement-engine/internal/common/metrics"
	"placement-engine/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Tokens are uniform 8-digit decimal strings.
const (
	tokenMin  = 10_000_000
	tokenSpan = 90_000_000
)

type Config struct {
	TTL        time.Duration
	MaxRetries int
}

// Store owns the invitations table.
type Store struct {
	config *Config
	db     *sql.DB
	logger logger.Logger
}

func NewStore(config *Config, db *sql.DB, log logger.Logger) *Store {
	if config.TTL == 0 {
		config.TTL = 7 * 24 * time.Hour
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 5
	}
	return &Store{
		config: config,
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "tokenstore"}),
	}
}

// Issue creates a pending invitation with a fresh unique token. Issuance is
// refused when the target email already belongs to a registered company.
func (s *Store) Issue(ctx context.Context, issuerID, targetEmail, message string) (*models.Invitation, error) {
	var registered bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM companies
			WHERE email = $1
		)`, targetEmail).Scan(&registered)
	if err != nil {
		return nil, errors.NewDatabaseError("invitation target check", err)
	}
	if registered {
		return nil, errors.NewDuplicateTargetError(targetEmail)
	}

	now := time.Now().UTC()
	inv := &models.Invitation{
		ID:          uuid.New().String(),
		IssuerID:    issuerID,
		TargetEmail: targetEmail,
		Message:     message,
		Status:      models.InvitationPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.TTL),
	}

	// Token uniqueness is enforced by the DB; collisions are retried with a
	// fresh draw, capped at MaxRetries.
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		token, err := randomToken()
		if err != nil {
			return nil, errors.NewInternalError(err)
		}
		inv.Token = token

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO invitations (
				id, issuer_id, target_email, message, token,
				status, created_at, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			inv.ID, inv.IssuerID, inv.TargetEmail, inv.Message, inv.Token,
			inv.Status, inv.CreatedAt, inv.ExpiresAt,
		)
		if err == nil {
			metrics.TokensIssued.Inc()
			s.logger.Info("invitation issued", map[string]interface{}{
				"invitationId": inv.ID,
				"issuerId":     issuerID,
				"expiresAt":    inv.ExpiresAt,
			})
			return inv, nil
		}
		if isTokenCollision(err) {
			metrics.TokenCollisionRetries.Inc()
			s.logger.Warn("token collision, redrawing", map[string]interface{}{
				"attempt": attempt + 1,
			})
			continue
		}
		return nil, errors.NewDatabaseError("invitation insert", err)
	}

	return nil, errors.NewDatabaseError("invitation insert",
		fmt.Errorf("token generation exhausted %d attempts", s.config.MaxRetries))
}

// Validate looks up a token after flushing overdue expiries. A non-pending
// invitation yields an invalid-state error carrying the reason.
func (s *Store) Validate(ctx context.Context, token string) (*models.Invitation, error) {
	if err := s.sweepExpired(ctx); err != nil {
		return nil, err
	}

	inv, err := s.getByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvitationPending {
		return nil, errors.NewInvalidStateError(inv.Status,
			fmt.Sprintf("invitation %s is %s", inv.ID, inv.Status))
	}
	return inv, nil
}

// Consume redeems a pending token exactly once. The guard is a single
// conditional write so concurrent consumers race on the database row, not on
// application state.
func (s *Store) Consume(ctx context.Context, token, resultingCompanyID string) error {
	if err := s.sweepExpired(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE invitations
		SET status = $1, used_at = $2, resulting_company_id = $3
		WHERE token = $4 AND status = $5`,
		models.InvitationUsed, time.Now().UTC(), resultingCompanyID,
		token, models.InvitationPending,
	)
	if err != nil {
		return errors.NewDatabaseError("invitation consume", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.NewDatabaseError("invitation consume", err)
	}
	if affected == 1 {
		s.logger.Info("invitation consumed", map[string]interface{}{
			"resultingCompanyId": resultingCompanyID,
		})
		return nil
	}

	// Zero rows: classify the loss without weakening the atomic guard.
	inv, err := s.getByToken(ctx, token)
	if err != nil {
		return err
	}
	if inv.Status == models.InvitationExpired {
		return errors.NewInvalidStateError(models.InvitationExpired,
			fmt.Sprintf("invitation %s is expired", inv.ID))
	}
	return errors.NewAlreadyConsumedError(token)
}

// sweepExpired lazily flips overdue pending invitations before any read,
// preserving read-time consistency without a background scheduler.
func (s *Store) sweepExpired(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invitations
		SET status = $1
		WHERE status = $2 AND expires_at <= $3`,
		models.InvitationExpired, models.InvitationPending, time.Now().UTC(),
	)
	if err != nil {
		return errors.NewDatabaseError("invitation expiry sweep", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("expired invitations swept", map[string]interface{}{
			"count": n,
		})
	}
	return nil
}

// Delete removes an invitation outright. Used by the orchestrator to roll
// back issuance when the invitation email cannot be sent.
func (s *Store) Delete(ctx context.Context, invitationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM invitations WHERE id = $1`, invitationID)
	if err != nil {
		return errors.NewDatabaseError("invitation delete", err)
	}
	return nil
}

func (s *Store) getByToken(ctx context.Context, token string) (*models.Invitation, error) {
	var inv models.Invitation
	var usedAt sql.NullTime
	var companyID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, issuer_id, target_email, message, token,
		       status, created_at, expires_at, used_at, resulting_company_id
		FROM invitations
		WHERE token = $1`, token).Scan(
		&inv.ID, &inv.IssuerID, &inv.TargetEmail, &inv.Message, &inv.Token,
		&inv.Status, &inv.CreatedAt, &inv.ExpiresAt, &usedAt, &companyID,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("invitation", "token lookup")
	}
	if err != nil {
		return nil, errors.NewDatabaseError("invitation lookup", err)
	}
	if usedAt.Valid {
		inv.UsedAt = &usedAt.Time
	}
	if companyID.Valid {
		inv.ResultingCompanyID = &companyID.String
	}
	return &inv, nil
}

func randomToken() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(tokenSpan))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%08d", n.Int64()+tokenMin), nil
}

func isTokenCollision(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

// Package orchestrator composes the token store, rating ledger, and
// application state machine behind one authorization boundary, and owns the
// side effects (notifications, audit trail, employment records).
package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"placement-engine/internal/common/config"
	"placement-engine/internal/common/errors"
	"placement-engine/internal/common/logger"
	"placement-engine/internal/engine/appstate"
	"placement-engine/internal/engine/ratings"
	"placement-engine/internal/engine/tokenstore"
	"placement-engine/internal/models"
	"placement-engine/internal/notify"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Notifier is the delivery collaborator; notify.Service satisfies it.
type Notifier interface {
	Notify(ctx context.Context, input *notify.Input) (*models.Notification, error)
	SendEmail(ctx context.Context, to, subject, body string) error
}

type Orchestrator struct {
	config   *config.Config
	db       *sql.DB
	redis    *redis.Client
	logger   logger.Logger
	tokens   *tokenstore.Store
	machine  *appstate.Machine
	ledger   *ratings.Ledger
	notifier Notifier
}

func New(cfg *config.Config, db *sql.DB, rdb *redis.Client, notifier Notifier, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		config: cfg,
		db:     db,
		redis:  rdb,
		logger: log.WithFields(map[string]interface{}{"component": "orchestrator"}),
		tokens: tokenstore.NewStore(&tokenstore.Config{
			TTL:        cfg.Invitations.InvitationTTL(),
			MaxRetries: cfg.Invitations.MaxTokenRetries,
		}, db, log),
		machine: appstate.NewMachine(db, log),
		ledger: ratings.NewLedger(&ratings.Config{
			AggregateCacheTTL: time.Duration(cfg.Ratings.AggregateCacheTTL) * time.Second,
			HistoryPageSize:   cfg.Ratings.HistoryPageSize,
			HistoryPageMax:    cfg.Ratings.HistoryPageMax,
		}, db, rdb, log),
		notifier: notifier,
	}
}

// ==========================
// Authorization
// ==========================

// authorizeDecision enforces the owner-only rule for status mutations. An
// affiliated coordinator gets a distinct message because the read/rate path
// is open to them.
func (o *Orchestrator) authorizeDecision(ctx context.Context, actor models.Actor, job *models.Job) error {
	if job.OwnedBy(actor) {
		return nil
	}
	if actor.Type == models.ActorCoordinator && job.CreatedByType == models.ActorCompany {
		affiliated, err := o.isAffiliated(ctx, actor.ID, job.CreatedByID)
		if err != nil {
			return err
		}
		if affiliated {
			return errors.NewAuthorizationError(
				"affiliated coordinators may view applications and submit ratings, but only the job owner decides")
		}
	}
	return errors.NewAuthorizationError(
		fmt.Sprintf("%s %s does not own job %s", actor.Type, actor.ID, job.ID))
}

// authorizeView allows the applicant, the owner, and affiliated coordinators.
func (o *Orchestrator) authorizeView(ctx context.Context, actor models.Actor, app *models.Application, job *models.Job) error {
	if actor.Type == models.ActorApplicant && actor.ID == app.ApplicantID {
		return nil
	}
	if job.OwnedBy(actor) {
		return nil
	}
	if actor.Type == models.ActorCoordinator && job.CreatedByType == models.ActorCompany {
		affiliated, err := o.isAffiliated(ctx, actor.ID, job.CreatedByID)
		if err != nil {
			return err
		}
		if affiliated {
			return nil
		}
	}
	return errors.NewAuthorizationError(
		fmt.Sprintf("%s %s may not view application %s", actor.Type, actor.ID, app.ID))
}

func (o *Orchestrator) isAffiliated(ctx context.Context, coordinatorID, companyID string) (bool, error) {
	var affiliated bool
	err := o.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM coordinator_companies
			WHERE coordinator_id = $1 AND company_id = $2
		)`, coordinatorID, companyID).Scan(&affiliated)
	if err != nil {
		return false, errors.NewDatabaseError("affiliation lookup", err)
	}
	return affiliated, nil
}

func (o *Orchestrator) getJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := o.db.QueryRowContext(ctx, `
		SELECT id, title, created_by_type, created_by_id, created_at
		FROM jobs
		WHERE id = $1`, jobID).Scan(
		&job.ID, &job.Title, &job.CreatedByType, &job.CreatedByID, &job.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("job", jobID)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("job lookup", err)
	}
	return &job, nil
}

// ==========================
// Audit trail
// ==========================

// audit records the event best-effort; a failed audit write never fails the
// operation that produced it.
func (o *Orchestrator) audit(ctx context.Context, actor models.Actor, eventType, resourceType, resourceID string, details map[string]interface{}) {
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte("{}")
	}

	_, err = o.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, event_type, resource_type, resource_id, actor_id, actor_type, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), eventType, resourceType, resourceID,
		actor.ID, actor.Type, payload, time.Now().UTC(),
	)
	if err != nil {
		o.logger.Warn("audit write failed", map[string]interface{}{
			"eventType":  eventType,
			"resourceId": resourceID,
			"error":      err.Error(),
		})
	}
}

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"placement-engine/internal/common/errors"
	"placement-engine/internal/models"
)

const invitationRateWindow = time.Hour

// IssueInvitation creates a single-use company invitation and emails the
// code to the target. Email delivery is binding here: if the send fails the
// invitation is deleted and the caller gets an error.
func (o *Orchestrator) IssueInvitation(ctx context.Context, actor models.Actor, targetEmail, message string) (*models.Invitation, error) {
	if actor.Type != models.ActorCoordinator {
		return nil, errors.NewAuthorizationError("only coordinators may issue company invitations")
	}
	if err := o.checkIssuanceRate(ctx, actor.ID); err != nil {
		return nil, err
	}

	inv, err := o.tokens.Issue(ctx, actor.ID, targetEmail, message)
	if err != nil {
		return nil, err
	}

	subject := "You have been invited to join the placement platform"
	body := fmt.Sprintf(
		"You have been invited to register your company. Your invitation code is %s. It expires on %s.\n\n%s",
		inv.Token, inv.ExpiresAt.Format("2006-01-02"), message,
	)
	if err := o.notifier.SendEmail(ctx, targetEmail, subject, body); err != nil {
		// the single case where a side-effect failure undoes a core write
		if delErr := o.tokens.Delete(ctx, inv.ID); delErr != nil {
			o.logger.Error("invitation rollback failed", map[string]interface{}{
				"invitationId": inv.ID,
				"error":        delErr.Error(),
			})
		}
		o.logger.Error("invitation email failed, invitation rolled back", map[string]interface{}{
			"invitationId": inv.ID,
			"targetEmail":  targetEmail,
		})
		return nil, errors.NewEmailSendFailedError(err)
	}

	o.audit(ctx, actor, "invitation.issued", "invitation", inv.ID, map[string]interface{}{
		"targetEmail": targetEmail,
		"expiresAt":   inv.ExpiresAt,
	})
	return inv, nil
}

// ValidateInvitation reports whether the code is currently redeemable.
func (o *Orchestrator) ValidateInvitation(ctx context.Context, token string) (*models.Invitation, error) {
	return o.tokens.Validate(ctx, token)
}

// ConsumeInvitation redeems the code during company registration, binding
// the new company to it.
func (o *Orchestrator) ConsumeInvitation(ctx context.Context, actor models.Actor, token, companyID string) error {
	if err := o.tokens.Consume(ctx, token, companyID); err != nil {
		return err
	}
	o.audit(ctx, actor, "invitation.consumed", "invitation", token, map[string]interface{}{
		"companyId": companyID,
	})
	return nil
}

// checkIssuanceRate caps invitations per issuer per window via redis. A rate
// store outage fails open: issuance keeps working without the cap.
func (o *Orchestrator) checkIssuanceRate(ctx context.Context, issuerID string) error {
	limit := o.config.Invitations.IssuePerHourLimit
	if limit <= 0 || o.redis == nil {
		return nil
	}

	key := "invite:rate:" + issuerID
	count, err := o.redis.Incr(ctx, key).Result()
	if err != nil {
		o.logger.Warn("issuance rate check unavailable", map[string]interface{}{
			"issuerId": issuerID,
			"error":    err.Error(),
		})
		return nil
	}
	if count == 1 {
		o.redis.Expire(ctx, key, invitationRateWindow)
	}
	if count > int64(limit) {
		return errors.NewRateLimitedError(
			fmt.Sprintf("invitation limit of %d per hour reached", limit))
	}
	return nil
}

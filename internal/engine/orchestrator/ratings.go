package orchestrator

import (
	"context"

	"placement-engine/internal/common/errors"
	"placement-engine/internal/engine/ratings"
	"placement-engine/internal/models"
)

// RatingSummary is the read shape for a ratee: aggregate plus a page of
// history, newest first.
type RatingSummary struct {
	Average float64         `json:"average"`
	Count   int             `json:"count"`
	History []models.Rating `json:"history"`
}

// SubmitRating records the actor's rating of the ratee and returns the fresh
// aggregate. The rater identity always comes from the authenticated actor.
func (o *Orchestrator) SubmitRating(ctx context.Context, actor models.Actor, input *ratings.SubmitInput) (*models.RatingAggregate, error) {
	if input.RaterID != "" && input.RaterID != actor.ID {
		return nil, errors.NewAuthorizationError("ratings are submitted on one's own behalf")
	}
	switch actor.Type {
	case models.ActorUser, models.ActorCoordinator, models.ActorCompany:
	default:
		return nil, errors.NewAuthorizationError(
			"only users, coordinators and companies submit ratings")
	}
	input.RaterID = actor.ID
	input.RaterType = actor.Type

	agg, err := o.ledger.Submit(ctx, input)
	if err != nil {
		return nil, err
	}

	o.audit(ctx, actor, "rating.submitted", "rating", string(input.RateeType)+":"+input.RateeID, map[string]interface{}{
		"context": input.Context,
		"value":   input.Value,
	})
	return agg, nil
}

// RatingsFor returns the aggregate and a history page for the ratee. A never
// rated ratee yields {0, 0, []}, not an error.
func (o *Orchestrator) RatingsFor(ctx context.Context, rateeID string, rateeType models.RateeType, limit, offset int) (*RatingSummary, error) {
	if !models.ValidRateeType(rateeType) {
		return nil, errors.NewValidationError("unknown ratee type: " + string(rateeType))
	}

	agg, err := o.ledger.AggregateFor(ctx, rateeID, rateeType)
	if err != nil {
		return nil, err
	}
	history, err := o.ledger.History(ctx, rateeID, rateeType, limit, offset)
	if err != nil {
		return nil, err
	}

	return &RatingSummary{
		Average: agg.Average,
		Count:   agg.Count,
		History: history,
	}, nil
}

package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"placement-engine/internal/common/errors"
	"placement-engine/internal/common/validation"
	"placement-engine/internal/engine/ratings"
	"placement-engine/internal/models"
)

const maxBodyBytes = 64 << 10

// readValidated reads the body and checks it against the schema before the
// caller decodes it.
func (s *Server) readValidated(r *http.Request, schema []byte) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.NewValidationError("unreadable request body")
	}
	if len(body) == 0 {
		return nil, errors.NewValidationError("request body is required")
	}

	result, err := validation.ValidateBytes(body, schema)
	if err != nil {
		return nil, errors.NewValidationError("request body is not valid JSON")
	}
	if !result.Valid {
		return nil, errors.NewValidationError(result.FirstError())
	}
	return body, nil
}

func decodeBody(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dest); err != nil {
		return errors.NewValidationError("request body is not valid JSON")
	}
	return nil
}

// ==========================
// Invitations
// ==========================

func (s *Server) handleIssueInvitation(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}

	body, err := s.readValidated(r, invitationSchema)
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}
	var req struct {
		TargetEmail string `json:"targetEmail"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.errs.WriteError(w, r, errors.NewValidationError("request body is not valid JSON"))
		return
	}

	inv, err := s.orch.IssueInvitation(r.Context(), actor, req.TargetEmail, req.Message)
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"token":     inv.Token,
		"expiresAt": inv.ExpiresAt,
	})
}

func (s *Server) handleValidateInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := s.orch.ValidateInvitation(r.Context(), r.PathValue("token"))
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":     true,
		"issuerId":  inv.IssuerID,
		"expiresAt": inv.ExpiresAt,
	})
}

func (s *Server) handleConsumeInvitation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyID string `json:"companyId"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.errs.WriteError(w, r, err)
		return
	}
	if req.CompanyID == "" {
		s.errs.WriteError(w, r, errors.NewValidationError("companyId is required"))
		return
	}

	// consume happens during registration, before the company has identity
	actor, err := actorFrom(r)
	if err != nil {
		actor = models.Actor{ID: req.CompanyID, Type: models.ActorCompany}
	}

	if err := s.orch.ConsumeInvitation(r.Context(), actor, r.PathValue("token"), req.CompanyID); err != nil {
		s.errs.WriteError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"consumed": true})
}

// ==========================
// Applications
// ==========================

func (s *Server) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}

	var req struct {
		JobID string `json:"jobId"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.errs.WriteError(w, r, err)
		return
	}
	if req.JobID == "" {
		s.errs.WriteError(w, r, errors.NewValidationError("jobId is required"))
		return
	}

	app, err := s.orch.SubmitApplication(r.Context(), actor, req.JobID)
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, app)
}

func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}

	view, err := s.orch.GetApplication(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAcceptApplication(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}

	body, err := s.readValidated(r, interviewSchema)
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}
	var req struct {
		Date     time.Time `json:"date"`
		Mode     string    `json:"mode"`
		Location string    `json:"location"`
		Link     string    `json:"link"`
		Notes    string    `json:"notes"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.errs.WriteError(w, r, errors.NewValidationError("date must be RFC 3339"))
		return
	}

	app, err := s.orch.AcceptApplication(r.Context(), actor, r.PathValue("id"), &models.Interview{
		Date:     req.Date,
		Mode:     models.InterviewMode(req.Mode),
		Location: req.Location,
		Link:     req.Link,
		Notes:    req.Notes,
	})
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleHireApplicant(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}

	view, err := s.orch.HireApplicant(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// Body-less (or reason-only) transitions share one handler shape.
const (
	transitionQualify      = "qualify"
	transitionSendToReview = "send-to-review"
	transitionReject       = "reject"
	transitionComplete     = "complete-interview"
	transitionNoShow       = "no-show"
	transitionPostReject   = "post-interview-reject"
)

func (s *Server) transitionHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			s.errs.WriteError(w, r, err)
			return
		}

		var req struct {
			Reason string `json:"reason"`
		}
		// reason is optional; an empty body is fine
		_ = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)

		id := r.PathValue("id")
		var app *models.Application
		switch kind {
		case transitionQualify:
			app, err = s.orch.QualifyApplication(r.Context(), actor, id)
		case transitionSendToReview:
			app, err = s.orch.SendApplicationToReview(r.Context(), actor, id)
		case transitionReject:
			app, err = s.orch.RejectApplication(r.Context(), actor, id, req.Reason)
		case transitionComplete:
			app, err = s.orch.CompleteInterview(r.Context(), actor, id)
		case transitionNoShow:
			app, err = s.orch.MarkNoShow(r.Context(), actor, id)
		case transitionPostReject:
			app, err = s.orch.PostInterviewReject(r.Context(), actor, id, req.Reason)
		default:
			err = errors.NewNotFoundError("transition", kind)
		}
		if err != nil {
			s.errs.WriteError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, app)
	}
}

// ==========================
// Ratings
// ==========================

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}

	body, err := s.readValidated(r, ratingSchema)
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}
	var req struct {
		RateeID   string  `json:"rateeId"`
		RateeType string  `json:"rateeType"`
		Context   string  `json:"context"`
		JobID     *string `json:"jobId"`
		Value     int     `json:"value"`
		Review    string  `json:"review"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.errs.WriteError(w, r, errors.NewValidationError("request body is not valid JSON"))
		return
	}

	agg, err := s.orch.SubmitRating(r.Context(), actor, &ratings.SubmitInput{
		RateeID:   req.RateeID,
		RateeType: models.RateeType(req.RateeType),
		Context:   req.Context,
		JobID:     req.JobID,
		Value:     req.Value,
		Review:    req.Review,
	})
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"average": agg.Average,
		"count":   agg.Count,
	})
}

func (s *Server) handleGetRatings(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	summary, err := s.orch.RatingsFor(r.Context(),
		r.PathValue("id"), models.RateeType(r.PathValue("rateeType")), limit, offset)
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// ==========================
// Employment
// ==========================

func (s *Server) handleEndEmployment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}

	record, err := s.orch.EndEmployment(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.errs.WriteError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

package models

import "time"

// Invitation statuses.
const (
	InvitationPending = "pending"
	InvitationUsed    = "used"
	InvitationExpired = "expired"
)

// Invitation is a time-boxed single-use code allowing a prospective company
// to self-register under a coordinator's sponsorship.
type Invitation struct {
	ID                 string     `json:"id"`
	IssuerID           string     `json:"issuerId"`
	TargetEmail        string     `json:"targetEmail"`
	Message            string     `json:"message,omitempty"`
	Token              string     `json:"token"` // 8 decimal digits
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"createdAt"`
	ExpiresAt          time.Time  `json:"expiresAt"`
	UsedAt             *time.Time `json:"usedAt,omitempty"`
	ResultingCompanyID *string    `json:"resultingCompanyId,omitempty"`
}

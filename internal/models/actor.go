package models

// ActorType discriminates the parties that operate on the platform.
type ActorType string

const (
	ActorUser        ActorType = "user"
	ActorApplicant   ActorType = "applicant"
	ActorCoordinator ActorType = "coordinator"
	ActorCompany     ActorType = "company"
)

// Actor identifies the authenticated caller, as injected by the gateway.
type Actor struct {
	ID   string    `json:"id"`
	Type ActorType `json:"type"`
}

// ValidActorType reports whether t is a known actor type.
func ValidActorType(t ActorType) bool {
	switch t {
	case ActorUser, ActorApplicant, ActorCoordinator, ActorCompany:
		return true
	}
	return false
}

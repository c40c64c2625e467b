package models

import "time"

// Job is a posting owned by exactly one coordinator or company.
// Authorization on an Application is always derived from Job ownership.
type Job struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	CreatedByType ActorType `json:"createdByType"` // coordinator or company
	CreatedByID   string    `json:"createdById"`
	CreatedAt     time.Time `json:"createdAt"`
}

// OwnedBy reports whether the actor is the single owner of the job.
func (j Job) OwnedBy(actor Actor) bool {
	return j.CreatedByType == actor.Type && j.CreatedByID == actor.ID
}

package models

import "time"

// Notification types consumed by the delivery collaborator.
const (
	NotificationApplicationStatus = "application_status"
	NotificationInterviewReminder = "interview_reminder"
	NotificationSystem            = "system"
)

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	RelatedID string    `json:"relatedId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

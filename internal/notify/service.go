// Package notify persists in-app notifications and delivers them over email
// and SMS. Delivery is best-effort; callers decide whether a send failure is
// fatal.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"placement-engine/internal/common/config"
	"placement-engine/internal/common/errors"
	"placement-engine/internal/common/logger"
	"placement-engine/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
)

// Define interfaces for mocking
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Input describes one notification to record and deliver.
type Input struct {
	RecipientID   string
	RecipientType models.ActorType
	Type          string
	RelatedID     string
	Priority      string
	Data          map[string]interface{}
}

type Service struct {
	config    *config.NotificationConfig
	fromEmail string
	db        *sql.DB
	logger    logger.Logger
	sesClient SESService
	snsClient SNSService
	templates map[string]notificationTemplate
}

type notificationTemplate struct {
	title string
	body  string
}

func NewService(cfg *config.Config, db *sql.DB, sesClient SESService, snsClient SNSService, log logger.Logger) *Service {
	return &Service{
		config:    &cfg.Notifications,
		fromEmail: cfg.Integrations.AWS.SES.FromEmail,
		db:        db,
		logger:    log.WithFields(map[string]interface{}{"component": "notify"}),
		sesClient: sesClient,
		snsClient: snsClient,
		templates: loadTemplates(),
	}
}

// Notify records the notification and fans out to the enabled channels. The
// database row is the source of truth; channel failures are logged and
// surfaced but leave the row in place.
func (s *Service) Notify(ctx context.Context, input *Input) (*models.Notification, error) {
	tmpl, exists := s.templates[input.Type]
	if !exists {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown notification type %q", input.Type))
	}

	data := map[string]interface{}{
		"recipientId": input.RecipientID,
		"relatedId":   input.RelatedID,
	}
	for k, v := range input.Data {
		data[k] = v
	}

	now := time.Now().UTC()
	notification := &models.Notification{
		ID:        uuid.New().String(),
		UserID:    input.RecipientID,
		Title:     renderTemplate(tmpl.title, data),
		Message:   renderTemplate(tmpl.body, data),
		Type:      input.Type,
		RelatedID: input.RelatedID,
		ExpiresAt: now.Add(time.Duration(s.config.DefaultTTLDays) * 24 * time.Hour),
		CreatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, related_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		notification.ID, notification.UserID, notification.Title,
		notification.Message, notification.Type, notification.RelatedID,
		notification.ExpiresAt, notification.CreatedAt,
	)
	if err != nil {
		return nil, errors.NewDatabaseError("notification insert", err)
	}

	if err := s.deliver(ctx, input, notification); err != nil {
		// row stays; the caller decides whether the channel failure matters
		return notification, err
	}
	return notification, nil
}

func (s *Service) deliver(ctx context.Context, input *Input, n *models.Notification) error {
	email, phone, err := s.recipientContact(ctx, input.RecipientID, input.RecipientType)
	if err != nil {
		s.logger.Warn("recipient contact lookup failed", map[string]interface{}{
			"recipientId": input.RecipientID,
			"type":        input.RecipientType,
			"error":       err.Error(),
		})
		return nil
	}

	if s.config.Email.Enabled && email != "" {
		if err := s.SendEmail(ctx, email, n.Title, n.Message); err != nil {
			s.logger.Error("email send failed", map[string]interface{}{
				"notificationId": n.ID,
				"email":          email,
				"error":          err.Error(),
			})
			return errors.NewNotificationSendFailedError("email", err)
		}
	}

	// SMS only for high-priority events
	if s.config.SMS.Enabled && phone != "" && input.Priority == s.config.SMS.PriorityThreshold {
		if err := s.sendSMS(ctx, phone, n.Message); err != nil {
			s.logger.Error("SMS send failed", map[string]interface{}{
				"notificationId": n.ID,
				"error":          err.Error(),
			})
			return errors.NewNotificationSendFailedError("sms", err)
		}
	}
	return nil
}

func (s *Service) recipientContact(ctx context.Context, recipientID string, recipientType models.ActorType) (string, string, error) {
	var query string
	switch recipientType {
	case models.ActorApplicant, models.ActorUser, models.ActorCoordinator:
		query = `SELECT email, COALESCE(phone, '') FROM users WHERE id = $1`
	case models.ActorCompany:
		query = `SELECT email, COALESCE(phone, '') FROM companies WHERE id = $1`
	default:
		return "", "", fmt.Errorf("invalid recipient type: %s", recipientType)
	}

	var email, phone string
	err := s.db.QueryRowContext(ctx, query, recipientID).Scan(&email, &phone)
	return email, phone, err
}

// SendEmail delivers a single transactional email. Invitation issuance calls
// this directly, since there the send outcome is binding.
func (s *Service) SendEmail(ctx context.Context, to, subject, body string) error {
	_, err := s.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
				Html: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(s.fromEmail),
	})
	return err
}

func (s *Service) sendSMS(ctx context.Context, to, message string) error {
	_, err := s.snsClient.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	})
	return err
}

// Simplified template rendering with placeholder removal for missing values
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl

	for k, v := range data {
		placeholder := "{{" + k + "}}"
		value := ""
		if s, ok := v.(string); ok {
			value = s
		} else if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, placeholder, value)
	}

	// Remove any remaining placeholders (missing values)
	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		result = result[:start] + result[end:]
	}

	return result
}

func loadTemplates() map[string]notificationTemplate {
	return map[string]notificationTemplate{
		models.NotificationApplicationStatus: {
			title: "Application Update",
			body:  "Your application {{relatedId}} is now {{status}}.{{detail}}",
		},
		models.NotificationInterviewReminder: {
			title: "Interview Scheduled",
			body:  "An interview for application {{relatedId}} is scheduled on {{date}} ({{mode}}).",
		},
		models.NotificationSystem: {
			title: "{{title}}",
			body:  "{{message}}",
		},
	}
}

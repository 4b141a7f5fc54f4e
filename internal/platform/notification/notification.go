// Package notification renders templated notices for doctors and
// administrators and hands them to a Sender.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Template IDs.
const (
	TemplateImagesReceived    = "images-received"
	TemplateStudyUnassociated = "study-unassociated"
	TemplateBackupCompleted   = "backup-completed"
	TemplateBackupFailed      = "backup-failed"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is a single outbound notice.
type Notification struct {
	ID           string            `json:"id"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Priority     Priority          `json:"priority"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Sender delivers a rendered notification.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// Template defines a reusable notification template.
type Template struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	Priority Priority `json:"priority"`
}

// TemplateEngine renders the built-in notification templates. It is read-only
// after construction and safe for concurrent use.
type TemplateEngine struct {
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:       TemplateImagesReceived,
			Name:     "Images Received",
			Subject:  "Images received for {{patient_name}}",
			Body:     "{{message}}. Exam {{exam_id}}, study {{study_id}}: {{viewer_url}}",
			Priority: PriorityNormal,
		},
		{
			ID:       TemplateStudyUnassociated,
			Name:     "Study Needs Review",
			Subject:  "Unassociated study {{study_id}}",
			Body:     "Study {{study_id}} for patient {{patient_id}} matched no open exam and is waiting for manual review.",
			Priority: PriorityNormal,
		},
		{
			ID:       TemplateBackupCompleted,
			Name:     "Backup Completed",
			Subject:  "Backup completed: {{filename}}",
			Body:     "Archive backup {{filename}} ({{size}}) completed at {{timestamp}}.",
			Priority: PriorityNormal,
		},
		{
			ID:       TemplateBackupFailed,
			Name:     "Backup Failed",
			Subject:  "Backup FAILED: {{filename}}",
			Body:     "Archive backup {{filename}} failed at {{timestamp}}: {{error}}",
			Priority: PriorityHigh,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, priority Priority, err error) {
	t, ok := e.templates[templateID]
	if !ok {
		return "", "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, t.Priority, nil
}

// Manager renders templates and sends the results to doctors and admins.
type Manager struct {
	sender    Sender
	templates *TemplateEngine
	admins    []string
	logger    zerolog.Logger
}

func NewManager(sender Sender, tpl *TemplateEngine, admins []string, logger zerolog.Logger) *Manager {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Manager{
		sender:    sender,
		templates: tpl,
		admins:    admins,
		logger:    logger,
	}
}

// SendFromTemplate renders templateID with data and sends it to recipient.
// The returned notification carries the final status even on error.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	subject, body, priority, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notification{
		ID:           uuid.New().String(),
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
		Priority:     priority,
		Status:       "pending",
		CreatedAt:    time.Now().UTC(),
	}

	if err := m.sender.Send(ctx, n); err != nil {
		n.Status = "failed"
		n.Error = err.Error()
		m.logger.Error().Err(err).
			Str("notification_id", n.ID).
			Str("template", templateID).
			Str("recipient", recipient).
			Msg("notification failed")
		return n, fmt.Errorf("send %s to %s: %w", templateID, recipient, err)
	}

	sentAt := time.Now().UTC()
	n.SentAt = &sentAt
	n.Status = "sent"
	return n, nil
}

// NotifyDoctor sends the images-received notice to the exam's doctor.
func (m *Manager) NotifyDoctor(ctx context.Context, doctorID string, data map[string]string) error {
	if doctorID == "" {
		m.logger.Warn().Str("template", TemplateImagesReceived).Msg("exam has no doctor, notification skipped")
		return nil
	}
	_, err := m.SendFromTemplate(ctx, TemplateImagesReceived, data, doctorID)
	return err
}

// NotifyAdmins sends templateID to every configured admin recipient. All
// recipients are attempted; failures are joined.
func (m *Manager) NotifyAdmins(ctx context.Context, templateID string, data map[string]string) error {
	var errs []error
	for _, admin := range m.admins {
		if _, err := m.SendFromTemplate(ctx, templateID, data, admin); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AlertAdmins is NotifyAdmins for conditions that also deserve an error log
// line, such as a failed backup.
func (m *Manager) AlertAdmins(ctx context.Context, templateID string, data map[string]string) error {
	m.logger.Error().
		Str("template", templateID).
		Interface("data", data).
		Msg("admin alert")
	return m.NotifyAdmins(ctx, templateID, data)
}

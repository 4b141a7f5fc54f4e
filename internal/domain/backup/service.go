package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/radiweb/pacs-gateway/internal/platform/notification"
)

// Outcome describes what Process did with a notification.
type Outcome string

const (
	OutcomeRecorded Outcome = "recorded"
	OutcomeFailed   Outcome = "failed"
	OutcomeIgnored  Outcome = "ignored"
)

type Notifier interface {
	NotifyAdmins(ctx context.Context, templateID string, data map[string]string) error
	AlertAdmins(ctx context.Context, templateID string, data map[string]string) error
}

type Service struct {
	repo     Repository
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With().Str("component", "backup").Logger(),
		now:      time.Now,
	}
}

// Process handles one backup job notification. Successful backups are
// recorded and announced to admins, failures raise an admin alert, and
// anything else is acknowledged without action.
func (s *Service) Process(ctx context.Context, n *Notification) (Outcome, error) {
	switch {
	case n.Event == EventBackupCompleted && n.Status == StatusSuccess:
		return OutcomeRecorded, s.completed(ctx, n)
	case n.Status == StatusFailed:
		return OutcomeFailed, s.failed(ctx, n)
	default:
		s.logger.Debug().Str("event", n.Event).Str("status", n.Status).Msg("backup notification ignored")
		return OutcomeIgnored, nil
	}
}

func (s *Service) completed(ctx context.Context, n *Notification) error {
	rec := &Record{
		Filename:    n.BackupFile,
		Size:        strPtr(string(n.BackupSize)),
		Status:      RecordCompleted,
		CompletedAt: n.CompletedAt(s.now()),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return fmt.Errorf("record backup: %w", err)
	}

	ev := s.logger.Info().Str("file", rec.Filename).Str("size", string(n.BackupSize))
	if b, ok := n.BackupSize.Bytes(); ok {
		ev = ev.Int64("size_bytes", b)
	}
	ev.Msg("backup completed")

	err := s.notifier.NotifyAdmins(ctx, notification.TemplateBackupCompleted, map[string]string{
		"filename":  n.BackupFile,
		"size":      string(n.BackupSize),
		"timestamp": n.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("notify admins: %w", err)
	}
	return nil
}

func (s *Service) failed(ctx context.Context, n *Notification) error {
	rec := &Record{
		Filename:    n.BackupFile,
		Size:        strPtr(string(n.BackupSize)),
		Status:      RecordFailed,
		Error:       strPtr(n.Error),
		CompletedAt: n.CompletedAt(s.now()),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return fmt.Errorf("record backup failure: %w", err)
	}

	err := s.notifier.AlertAdmins(ctx, notification.TemplateBackupFailed, map[string]string{
		"filename":  n.BackupFile,
		"timestamp": n.Timestamp,
		"error":     n.Error,
	})
	if err != nil {
		return fmt.Errorf("alert admins: %w", err)
	}
	return nil
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Record, int, error) {
	return s.repo.List(ctx, status, limit, offset)
}

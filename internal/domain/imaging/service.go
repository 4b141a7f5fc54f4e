package imaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radiweb/pacs-gateway/internal/platform/archive"
	"github.com/radiweb/pacs-gateway/internal/platform/notification"
)

// LinkGenerator issues and revokes viewer links. *ViewerLinks satisfies it.
type LinkGenerator interface {
	Generate(ctx context.Context, studyID string) (*ViewerLink, error)
	Revoke(ctx context.Context, tokenID string) error
}

// Notifier is the part of notification.Manager the service uses.
type Notifier interface {
	NotifyDoctor(ctx context.Context, doctorID string, data map[string]string) error
	NotifyAdmins(ctx context.Context, templateID string, data map[string]string) error
}

// StudyFetcher reads study metadata from the archive. *archive.Client
// satisfies it.
type StudyFetcher interface {
	GetStudy(ctx context.Context, id string) (*archive.Study, error)
}

// TxFunc runs fn in a transaction carried by ctx.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// ListingConfig bounds the per-study archive fan-out of a listing.
type ListingConfig struct {
	MaxConcurrency int
	// Partial isolates enrichment failures per study instead of failing the
	// whole listing. It is the default when a request does not pick a mode.
	Partial bool
}

type Service struct {
	studies  StudyRepository
	exams    ExamRepository
	links    LinkGenerator
	notifier Notifier
	fetcher  StudyFetcher
	withTx   TxFunc
	listing  ListingConfig
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(studies StudyRepository, exams ExamRepository, links LinkGenerator, notifier Notifier, fetcher StudyFetcher, logger zerolog.Logger) *Service {
	return &Service{
		studies:  studies,
		exams:    exams,
		links:    links,
		notifier: notifier,
		fetcher:  fetcher,
		withTx:   func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) },
		listing:  ListingConfig{MaxConcurrency: 8},
		logger:   logger,
		now:      time.Now,
	}
}

// SetTxFunc makes linking a study and updating its exam atomic.
func (s *Service) SetTxFunc(fn TxFunc) {
	s.withTx = fn
}

func (s *Service) SetListingConfig(cfg ListingConfig) {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	s.listing = cfg
}

// ProcessStudyReceived records an arrived study and attaches it to the
// patient's open exam. Without an open exam the study is left unassociated
// for manual review. Redelivery for a linked or queued study only refreshes
// its metadata.
func (s *Service) ProcessStudyReceived(ctx context.Context, n *StudyNotification) (*StudyAck, error) {
	study := &Study{
		OrthancStudyID: n.StudyID,
		PatientID:      n.PatientID,
		PatientName:    strPtr(n.PatientName),
		StudyDate:      strPtr(n.StudyDate),
		Modality:       strPtr(n.Modality),
		ReceivedAt:     n.ReceivedAt(s.now()),
		Status:         StudyStatusReceived,
	}
	if err := s.studies.Save(ctx, study); err != nil {
		return nil, err
	}

	ack := &StudyAck{
		Success: true,
		Message: "Study processed successfully",
		StudyID: n.StudyID,
	}

	// The archive notifies once per stored instance.
	if study.Status == StudyStatusLinked && study.ExamID != nil {
		s.logger.Debug().Str("study_id", n.StudyID).Str("exam_id", study.ExamID.String()).
			Msg("study already linked, metadata refreshed")
		ack.ExamID = study.ExamID.String()
		ack.ViewerURL = deref(study.ViewerURL)
		return ack, nil
	}
	queued := study.Status == StudyStatusUnassociated

	exam, err := s.exams.FindOpenByPatient(ctx, n.PatientID)
	if errors.Is(err, ErrExamNotFound) {
		if queued {
			return ack, nil
		}
		s.logger.Warn().Str("study_id", n.StudyID).Str("patient_id", n.PatientID).
			Msg("no open exam for patient, study left for manual review")
		if err := s.studies.MarkUnassociated(ctx, n.StudyID); err != nil {
			return nil, err
		}
		s.notifyUnassociated(ctx, study)
		return ack, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find exam for patient %s: %w", n.PatientID, err)
	}

	link, err := s.attach(ctx, study, exam)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("study_id", n.StudyID).Str("exam_id", exam.ID.String()).Msg("study linked to exam")
	ack.ExamID = exam.ID.String()
	ack.ViewerURL = link.ViewerURL
	return ack, nil
}

// LinkStudy resolves a study left unassociated by attaching it to examID.
func (s *Service) LinkStudy(ctx context.Context, orthancStudyID string, examID uuid.UUID) (*ViewerLink, error) {
	study, err := s.studies.GetByOrthancID(ctx, orthancStudyID)
	if err != nil {
		return nil, err
	}
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.PatientID != study.PatientID {
		return nil, fmt.Errorf("%w: exam %s belongs to another patient", ErrPatientMismatch, examID)
	}
	return s.attach(ctx, study, exam)
}

// attach links study to exam, marks the exam as having images and notifies
// the exam's doctor.
func (s *Service) attach(ctx context.Context, study *Study, exam *Exam) (*ViewerLink, error) {
	link, err := s.links.Generate(ctx, study.OrthancStudyID)
	if err != nil {
		return nil, fmt.Errorf("generate viewer link: %w", err)
	}

	err = s.withTx(ctx, func(ctx context.Context) error {
		if err := s.studies.LinkToExam(ctx, study.OrthancStudyID, exam.ID, link.ViewerURL); err != nil {
			return err
		}
		return s.exams.MarkImagesReceived(ctx, exam.ID, study.OrthancStudyID, link.ViewerURL)
	})
	if err != nil {
		// ctx may already be past its deadline.
		if rerr := s.links.Revoke(context.WithoutCancel(ctx), link.TokenID); rerr != nil {
			s.logger.Warn().Err(rerr).Str("token_id", link.TokenID).Msg("revoke unused viewer token")
		}
		return nil, err
	}

	err = s.notifier.NotifyDoctor(ctx, exam.DoctorID, map[string]string{
		"exam_id":      exam.ID.String(),
		"study_id":     study.OrthancStudyID,
		"patient_name": deref(study.PatientName),
		"viewer_url":   link.ViewerURL,
		"message":      ImagesReceivedMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("notify doctor: %w", err)
	}
	return link, nil
}

// notifyUnassociated is best effort: the study is already queued for review.
func (s *Service) notifyUnassociated(ctx context.Context, study *Study) {
	err := s.notifier.NotifyAdmins(ctx, notification.TemplateStudyUnassociated, map[string]string{
		"study_id":   study.OrthancStudyID,
		"patient_id": study.PatientID,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("study_id", study.OrthancStudyID).Msg("unassociated study notice failed")
	}
}

func (s *Service) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Study, int, error) {
	return s.studies.ListByStatus(ctx, status, limit, offset)
}

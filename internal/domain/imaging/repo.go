package imaging

import (
	"context"

	"github.com/google/uuid"
)

type StudyRepository interface {
	// Save inserts s or, when a study with the same OrthancStudyID exists,
	// refreshes its metadata. A linked or unassociated study keeps its status,
	// exam and viewer URL; s is updated with the stored values either way.
	Save(ctx context.Context, s *Study) error
	GetByOrthancID(ctx context.Context, orthancStudyID string) (*Study, error)
	LinkToExam(ctx context.Context, orthancStudyID string, examID uuid.UUID, viewerURL string) error
	MarkUnassociated(ctx context.Context, orthancStudyID string) error
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Study, int, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Study, int, error)
}

type ExamRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Exam, error)
	// FindOpenByPatient returns the most recent scheduled or in-progress exam
	// of the patient, or ErrExamNotFound.
	FindOpenByPatient(ctx context.Context, patientID string) (*Exam, error)
	MarkImagesReceived(ctx context.Context, id uuid.UUID, orthancStudyID, viewerURL string) error
}

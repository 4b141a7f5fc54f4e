package imaging

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	StudyStatusReceived     = "received"
	StudyStatusLinked       = "linked"
	StudyStatusUnassociated = "unassociated"
)

const (
	ExamStatusScheduled      = "scheduled"
	ExamStatusInProgress     = "in_progress"
	ExamStatusImagesReceived = "images_received"
)

// ImagesReceivedMessage is the doctor-facing text sent when a study is linked.
const ImagesReceivedMessage = "DICOM images received and ready for viewing"

var (
	ErrExamNotFound  = errors.New("exam not found")
	ErrStudyNotFound = errors.New("study not found")

	ErrPatientMismatch    = errors.New("patient mismatch")
	ErrInvalidViewerToken = errors.New("invalid viewer token")
)

// Study is a DICOM study reference stored by the gateway. OrthancStudyID is
// the archive's identifier and is unique.
type Study struct {
	ID             uuid.UUID  `json:"id"`
	OrthancStudyID string     `json:"orthanc_study_id"`
	PatientID      string     `json:"patient_id"`
	PatientName    *string    `json:"patient_name,omitempty"`
	StudyDate      *string    `json:"study_date,omitempty"`
	Modality       *string    `json:"modality,omitempty"`
	ReceivedAt     time.Time  `json:"received_at"`
	Status         string     `json:"status"`
	ExamID         *uuid.UUID `json:"exam_id,omitempty"`
	ViewerURL      *string    `json:"viewer_url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Exam is the records-system order a study fulfils. Exams are created
// elsewhere; the gateway only reads them and records image arrival.
type Exam struct {
	ID             uuid.UUID `json:"id"`
	PatientID      string    `json:"patient_id"`
	DoctorID       string    `json:"doctor_id"`
	Status         string    `json:"status"`
	OrthancStudyID *string   `json:"orthanc_study_id,omitempty"`
	ViewerURL      *string   `json:"viewer_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StudyNotification is the body the archive posts when a study becomes stable.
type StudyNotification struct {
	Event       string `json:"event"`
	StudyID     string `json:"study_id" validate:"required,max=128"`
	PatientID   string `json:"patient_id" validate:"required,max=128"`
	PatientName string `json:"patient_name" validate:"max=255"`
	StudyDate   string `json:"study_date" validate:"max=16"`
	Modality    string `json:"modality" validate:"max=16"`
	Timestamp   string `json:"timestamp"`
	InstanceID  string `json:"instance_id,omitempty"`
	Origin      string `json:"origin,omitempty"`
}

// ReceivedAt parses Timestamp as RFC3339, falling back to now.
func (n StudyNotification) ReceivedAt(now time.Time) time.Time {
	if n.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, n.Timestamp); err == nil {
			return t
		}
	}
	return now
}

// StudyAck acknowledges a processed study notification.
type StudyAck struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	StudyID   string `json:"study_id"`
	ExamID    string `json:"exam_id,omitempty"`
	ViewerURL string `json:"viewer_url,omitempty"`
}

// StudySummary is one entry of a patient's study listing, enriched from the
// archive. Error is set only in partial mode, for entries whose enrichment
// failed.
type StudySummary struct {
	OrthancStudyID   string `json:"orthanc_study_id"`
	StudyInstanceUID string `json:"study_instance_uid,omitempty"`
	PatientName      string `json:"patient_name,omitempty"`
	StudyDate        string `json:"study_date,omitempty"`
	StudyDescription string `json:"study_description,omitempty"`
	Modality         string `json:"modality,omitempty"`
	ViewerURL        string `json:"viewer_url,omitempty"`
	SeriesCount      int    `json:"series_count"`
	InstancesCount   int    `json:"instances_count"`
	Error            string `json:"error,omitempty"`
}

// ViewerLink is a tokenized web viewer URL for one study.
type ViewerLink struct {
	StudyID   string    `json:"study_id"`
	ViewerURL string    `json:"viewer_url"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type linkExamRequest struct {
	ExamID string `json:"exam_id" validate:"required,uuid"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

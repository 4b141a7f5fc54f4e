package imaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radiweb/pacs-gateway/internal/platform/db"
)

// =========== Study Repository ===========

type studyRepoPG struct{ pool *pgxpool.Pool }

func NewStudyRepoPG(pool *pgxpool.Pool) StudyRepository {
	return &studyRepoPG{pool: pool}
}

func (r *studyRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const studyCols = `id, orthanc_study_id, patient_id, patient_name, study_date, modality,
	received_at, status, exam_id, viewer_url, created_at, updated_at`

func scanStudy(row pgx.Row) (*Study, error) {
	var s Study
	err := row.Scan(&s.ID, &s.OrthancStudyID, &s.PatientID, &s.PatientName, &s.StudyDate, &s.Modality,
		&s.ReceivedAt, &s.Status, &s.ExamID, &s.ViewerURL, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStudyNotFound
	}
	return &s, err
}

func (r *studyRepoPG) Save(ctx context.Context, s *Study) error {
	if s.Status == "" {
		s.Status = StudyStatusReceived
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO imaging_study (id, orthanc_study_id, patient_id, patient_name, study_date, modality,
			received_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (orthanc_study_id) DO UPDATE SET
			patient_id = EXCLUDED.patient_id,
			patient_name = EXCLUDED.patient_name,
			study_date = EXCLUDED.study_date,
			modality = EXCLUDED.modality,
			received_at = EXCLUDED.received_at,
			status = CASE WHEN imaging_study.status IN ($9, $10) THEN imaging_study.status
				ELSE EXCLUDED.status END,
			updated_at = NOW()
		RETURNING id, status, exam_id, viewer_url, created_at, updated_at`,
		uuid.New(), s.OrthancStudyID, s.PatientID, s.PatientName, s.StudyDate, s.Modality,
		s.ReceivedAt, s.Status, StudyStatusLinked, StudyStatusUnassociated).
		Scan(&s.ID, &s.Status, &s.ExamID, &s.ViewerURL, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save study %s: %w", s.OrthancStudyID, err)
	}
	return nil
}

func (r *studyRepoPG) GetByOrthancID(ctx context.Context, orthancStudyID string) (*Study, error) {
	return scanStudy(r.conn(ctx).QueryRow(ctx,
		`SELECT `+studyCols+` FROM imaging_study WHERE orthanc_study_id = $1`, orthancStudyID))
}

func (r *studyRepoPG) LinkToExam(ctx context.Context, orthancStudyID string, examID uuid.UUID, viewerURL string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE imaging_study SET status = $2, exam_id = $3, viewer_url = $4, updated_at = NOW()
		WHERE orthanc_study_id = $1`,
		orthancStudyID, StudyStatusLinked, examID, viewerURL)
	if err != nil {
		return fmt.Errorf("link study %s to exam %s: %w", orthancStudyID, examID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStudyNotFound
	}
	return nil
}

func (r *studyRepoPG) MarkUnassociated(ctx context.Context, orthancStudyID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE imaging_study SET status = $2, exam_id = NULL, updated_at = NOW()
		WHERE orthanc_study_id = $1`,
		orthancStudyID, StudyStatusUnassociated)
	if err != nil {
		return fmt.Errorf("mark study %s unassociated: %w", orthancStudyID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStudyNotFound
	}
	return nil
}

func (r *studyRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Study, int, error) {
	return r.list(ctx, `patient_id = $1`, patientID, limit, offset)
}

func (r *studyRepoPG) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Study, int, error) {
	return r.list(ctx, `status = $1`, status, limit, offset)
}

func (r *studyRepoPG) list(ctx context.Context, where string, arg interface{}, limit, offset int) ([]*Study, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM imaging_study WHERE `+where, arg).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+studyCols+` FROM imaging_study WHERE `+where+
		` ORDER BY received_at DESC, id LIMIT $2 OFFSET $3`, arg, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Study
	for rows.Next() {
		s, err := scanStudy(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// =========== Exam Repository ===========

type examRepoPG struct{ pool *pgxpool.Pool }

func NewExamRepoPG(pool *pgxpool.Pool) ExamRepository {
	return &examRepoPG{pool: pool}
}

func (r *examRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const examCols = `id, patient_id, doctor_id, status, orthanc_study_id, viewer_url, created_at, updated_at`

func scanExam(row pgx.Row) (*Exam, error) {
	var e Exam
	err := row.Scan(&e.ID, &e.PatientID, &e.DoctorID, &e.Status, &e.OrthancStudyID, &e.ViewerURL,
		&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	return &e, err
}

func (r *examRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Exam, error) {
	return scanExam(r.conn(ctx).QueryRow(ctx, `SELECT `+examCols+` FROM exam WHERE id = $1`, id))
}

func (r *examRepoPG) FindOpenByPatient(ctx context.Context, patientID string) (*Exam, error) {
	return scanExam(r.conn(ctx).QueryRow(ctx, `
		SELECT `+examCols+` FROM exam
		WHERE patient_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1`,
		patientID, ExamStatusScheduled, ExamStatusInProgress))
}

func (r *examRepoPG) MarkImagesReceived(ctx context.Context, id uuid.UUID, orthancStudyID, viewerURL string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE exam SET status = $2, orthanc_study_id = $3, viewer_url = $4, updated_at = NOW()
		WHERE id = $1`,
		id, ExamStatusImagesReceived, orthancStudyID, viewerURL)
	if err != nil {
		return fmt.Errorf("update exam %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExamNotFound
	}
	return nil
}

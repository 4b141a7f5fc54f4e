package imaging

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/radiweb/pacs-gateway/internal/platform/archive"
)

// ListPatientStudies loads a page of the patient's stored studies and enriches
// each from the archive, at most MaxConcurrency at a time. The result keeps
// the stored order.
//
// In strict mode the first failure cancels the outstanding calls and fails
// the listing. In partial mode every study is attempted and failed entries
// carry an Error instead.
func (s *Service) ListPatientStudies(ctx context.Context, patientID string, limit, offset int, partial bool) ([]StudySummary, int, error) {
	studies, total, err := s.studies.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list studies for patient %s: %w", patientID, err)
	}

	out := make([]StudySummary, len(studies))
	if len(studies) == 0 {
		return out, total, nil
	}

	if partial {
		var g errgroup.Group
		g.SetLimit(s.listing.MaxConcurrency)
		for i, st := range studies {
			i, st := i, st
			g.Go(func() error {
				sum, err := s.enrich(ctx, st)
				if err != nil {
					s.logger.Warn().Err(err).Str("study_id", st.OrthancStudyID).Msg("study enrichment failed")
					out[i] = StudySummary{OrthancStudyID: st.OrthancStudyID, Error: enrichmentError(err)}
					return nil
				}
				out[i] = *sum
				return nil
			})
		}
		g.Wait()
		return out, total, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.listing.MaxConcurrency)
	for i, st := range studies {
		i, st := i, st
		g.Go(func() error {
			sum, err := s.enrich(gctx, st)
			if err != nil {
				return fmt.Errorf("enrich study %s: %w", st.OrthancStudyID, err)
			}
			out[i] = *sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Service) enrich(ctx context.Context, st *Study) (*StudySummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.fetcher.GetStudy(ctx, st.OrthancStudyID)
	if err != nil {
		return nil, err
	}
	if pid := data.PatientID(); pid != "" && pid != st.PatientID {
		s.logger.Warn().Str("study_id", st.OrthancStudyID).Str("patient_id", st.PatientID).
			Str("archive_patient_id", pid).Msg("archive patient id differs from stored study")
	}
	link, err := s.links.Generate(ctx, st.OrthancStudyID)
	if err != nil {
		return nil, fmt.Errorf("generate viewer link: %w", err)
	}

	return &StudySummary{
		OrthancStudyID:   st.OrthancStudyID,
		StudyInstanceUID: data.StudyInstanceUID(),
		PatientName:      data.PatientName(),
		StudyDate:        data.StudyDate(),
		StudyDescription: data.StudyDescription(),
		Modality:         data.Modality(),
		ViewerURL:        link.ViewerURL,
		SeriesCount:      len(data.Series),
		InstancesCount:   len(data.Instances),
	}, nil
}

// enrichmentError is the client-facing text for a failed entry. Archive
// internals stay in the log.
func enrichmentError(err error) string {
	switch {
	case errors.Is(err, archive.ErrNotFound):
		return "study not found in archive"
	case errors.Is(err, context.DeadlineExceeded):
		return "archive request timed out"
	default:
		return "archive unavailable"
	}
}

package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radiweb/pacs-gateway/internal/platform/archive"
)

// -- Mocks --

type mockStudyRepo struct {
	mu      sync.Mutex
	studies map[string]*Study
	calls   []string
	saveErr error
}

func newMockStudyRepo() *mockStudyRepo {
	return &mockStudyRepo{studies: make(map[string]*Study)}
}

func (m *mockStudyRepo) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockStudyRepo) Save(_ context.Context, s *Study) error {
	m.record("Save")
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.studies[s.OrthancStudyID]; ok {
		s.ID = existing.ID
		if existing.Status == StudyStatusLinked || existing.Status == StudyStatusUnassociated {
			s.Status = existing.Status
		}
		s.ExamID = existing.ExamID
		s.ViewerURL = existing.ViewerURL
	} else {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.studies[s.OrthancStudyID] = &cp
	return nil
}

func (m *mockStudyRepo) GetByOrthancID(_ context.Context, id string) (*Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.studies[id]
	if !ok {
		return nil, ErrStudyNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockStudyRepo) LinkToExam(_ context.Context, id string, examID uuid.UUID, viewerURL string) error {
	m.record("LinkToExam")
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.studies[id]
	if !ok {
		return ErrStudyNotFound
	}
	s.Status = StudyStatusLinked
	s.ExamID = &examID
	s.ViewerURL = &viewerURL
	return nil
}

func (m *mockStudyRepo) MarkUnassociated(_ context.Context, id string) error {
	m.record("MarkUnassociated")
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.studies[id]
	if !ok {
		return ErrStudyNotFound
	}
	s.Status = StudyStatusUnassociated
	return nil
}

func (m *mockStudyRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Study, int, error) {
	return m.listWhere(func(s *Study) bool { return s.PatientID == patientID }, limit, offset)
}

func (m *mockStudyRepo) ListByStatus(_ context.Context, status string, limit, offset int) ([]*Study, int, error) {
	return m.listWhere(func(s *Study) bool { return s.Status == status }, limit, offset)
}

// listWhere orders by OrthancStudyID so tests get a stable order.
func (m *mockStudyRepo) listWhere(match func(*Study) bool, limit, offset int) ([]*Study, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Study
	for _, s := range m.studies {
		if match(s) {
			all = append(all, s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].OrthancStudyID < all[j].OrthancStudyID })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type mockExamRepo struct {
	mu    sync.Mutex
	exams map[uuid.UUID]*Exam
	calls []string
}

func newMockExamRepo(exams ...*Exam) *mockExamRepo {
	m := &mockExamRepo{exams: make(map[uuid.UUID]*Exam)}
	for _, e := range exams {
		m.exams[e.ID] = e
	}
	return m
}

func (m *mockExamRepo) GetByID(_ context.Context, id uuid.UUID) (*Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return nil, ErrExamNotFound
	}
	return e, nil
}

func (m *mockExamRepo) FindOpenByPatient(_ context.Context, patientID string) (*Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "FindOpenByPatient")
	for _, e := range m.exams {
		if e.PatientID == patientID && (e.Status == ExamStatusScheduled || e.Status == ExamStatusInProgress) {
			return e, nil
		}
	}
	return nil, ErrExamNotFound
}

func (m *mockExamRepo) MarkImagesReceived(_ context.Context, id uuid.UUID, studyID, viewerURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "MarkImagesReceived")
	e, ok := m.exams[id]
	if !ok {
		return ErrExamNotFound
	}
	e.Status = ExamStatusImagesReceived
	e.OrthancStudyID = &studyID
	e.ViewerURL = &viewerURL
	return nil
}

type fakeLinks struct {
	calls   int32
	err     error
	mu      sync.Mutex
	revoked []string
}

func (f *fakeLinks) Revoke(_ context.Context, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, tokenID)
	return nil
}

func (f *fakeLinks) Generate(_ context.Context, studyID string) (*ViewerLink, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &ViewerLink{
		StudyID:   studyID,
		ViewerURL: "https://pacs.example/stone-webviewer/index.html?study=" + studyID + "&token=t",
		TokenID:   "jti-" + studyID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

type notice struct {
	kind      string
	recipient string
	data      map[string]string
}

type mockNotifier struct {
	mu      sync.Mutex
	notices []notice
	err     error
}

func (m *mockNotifier) NotifyDoctor(_ context.Context, doctorID string, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, notice{"doctor", doctorID, data})
	return m.err
}

func (m *mockNotifier) NotifyAdmins(_ context.Context, templateID string, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, notice{"admins:" + templateID, "", data})
	return m.err
}

// fakeFetcher serves archive studies, failing for ids in fail and tracking
// the peak number of concurrent calls.
type fakeFetcher struct {
	patientID string
	fail      map[string]error
	delay    time.Duration
	inFlight int32
	peak     int32
	calls    int32
}

func (f *fakeFetcher) GetStudy(ctx context.Context, id string) (*archive.Study, error) {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return &archive.Study{
		ID:                   id,
		MainDicomTags:        map[string]string{"StudyDate": "20240115", "StudyDescription": "CT " + id, "Modality": "CT", "StudyInstanceUID": "1.2.840." + id},
		PatientMainDicomTags: map[string]string{"PatientName": "DOE^JOHN", "PatientID": f.patientID},
		Series:               []string{"s1", "s2"},
		Instances:            []string{"i1", "i2", "i3"},
	}, nil
}

type testEnv struct {
	svc      *Service
	studies  *mockStudyRepo
	exams    *mockExamRepo
	links    *fakeLinks
	notifier *mockNotifier
	fetcher  *fakeFetcher
}

func newTestEnv(exams ...*Exam) *testEnv {
	env := &testEnv{
		studies:  newMockStudyRepo(),
		exams:    newMockExamRepo(exams...),
		links:    &fakeLinks{},
		notifier: &mockNotifier{},
		fetcher:  &fakeFetcher{},
	}
	env.svc = NewService(env.studies, env.exams, env.links, env.notifier, env.fetcher, zerolog.Nop())
	return env
}

func scheduledExam(patientID string) *Exam {
	return &Exam{ID: uuid.New(), PatientID: patientID, DoctorID: "doctor-7", Status: ExamStatusScheduled}
}

// -- ProcessStudyReceived --

func TestProcessStudyReceived_LinksToExam(t *testing.T) {
	exam := scheduledExam("P1")
	env := newTestEnv(exam)

	ack, err := env.svc.ProcessStudyReceived(context.Background(), &StudyNotification{
		Event:       "study_received",
		StudyID:     "S1",
		PatientID:   "P1",
		PatientName: "DOE^JOHN",
		Modality:    "CT",
		Timestamp:   "2024-01-15T10:30:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !ack.Success || ack.Message != "Study processed successfully" || ack.StudyID != "S1" {
		t.Errorf("unexpected ack %+v", ack)
	}
	if ack.ExamID != exam.ID.String() {
		t.Errorf("expected exam id %s in ack, got %q", exam.ID, ack.ExamID)
	}
	if ack.ViewerURL == "" {
		t.Error("expected viewer url in ack")
	}

	if exam.Status != ExamStatusImagesReceived {
		t.Errorf("expected exam status %s, got %s", ExamStatusImagesReceived, exam.Status)
	}
	if deref(exam.ViewerURL) != ack.ViewerURL || deref(exam.OrthancStudyID) != "S1" {
		t.Errorf("expected exam to carry study and viewer url, got %+v", exam)
	}

	study, _ := env.studies.GetByOrthancID(context.Background(), "S1")
	if study.Status != StudyStatusLinked || study.ExamID == nil || *study.ExamID != exam.ID {
		t.Errorf("expected study linked to exam, got %+v", study)
	}
	if want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC); !study.ReceivedAt.Equal(want) {
		t.Errorf("expected received_at from timestamp, got %s", study.ReceivedAt)
	}

	if len(env.notifier.notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(env.notifier.notices))
	}
	n := env.notifier.notices[0]
	if n.kind != "doctor" || n.recipient != "doctor-7" || n.data["message"] != ImagesReceivedMessage {
		t.Errorf("unexpected doctor notice %+v", n)
	}
}

func TestProcessStudyReceived_NoExamMarksUnassociated(t *testing.T) {
	env := newTestEnv(scheduledExam("OTHER"))

	ack, err := env.svc.ProcessStudyReceived(context.Background(), &StudyNotification{StudyID: "S1", PatientID: "P1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ack.Success || ack.ExamID != "" || ack.ViewerURL != "" {
		t.Errorf("unexpected ack %+v", ack)
	}

	study, _ := env.studies.GetByOrthancID(context.Background(), "S1")
	if study.Status != StudyStatusUnassociated {
		t.Errorf("expected study to be unassociated, got %s", study.Status)
	}
	if env.links.calls != 0 {
		t.Error("expected no viewer link for an unassociated study")
	}
	if len(env.notifier.notices) != 1 || env.notifier.notices[0].kind != "admins:study-unassociated" {
		t.Errorf("expected admins to be told about the study, got %+v", env.notifier.notices)
	}
}

func TestProcessStudyReceived_ClosedExamIsIgnored(t *testing.T) {
	exam := scheduledExam("P1")
	exam.Status = ExamStatusImagesReceived
	env := newTestEnv(exam)

	ack, err := env.svc.ProcessStudyReceived(context.Background(), &StudyNotification{StudyID: "S2", PatientID: "P1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.ExamID != "" {
		t.Errorf("expected exam that already has images not to be reused, got %s", ack.ExamID)
	}
}

func TestProcessStudyReceived_UnassociatedNoticeFailureIsNotFatal(t *testing.T) {
	env := newTestEnv()
	env.notifier.err = errors.New("webhook down")

	if _, err := env.svc.ProcessStudyReceived(context.Background(), &StudyNotification{StudyID: "S1", PatientID: "P1"}); err != nil {
		t.Fatalf("expected success despite notice failure, got %v", err)
	}
}

func TestProcessStudyReceived_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *testEnv)
	}{
		{"save fails", func(env *testEnv) { env.studies.saveErr = errors.New("db down") }},
		{"viewer link fails", func(env *testEnv) { env.links.err = errors.New("redis down") }},
		{"doctor notice fails", func(env *testEnv) { env.notifier.err = errors.New("smtp down") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(scheduledExam("P1"))
			tt.setup(env)

			ack, err := env.svc.ProcessStudyReceived(context.Background(), &StudyNotification{StudyID: "S1", PatientID: "P1"})
			if err == nil {
				t.Fatalf("expected error, got ack %+v", ack)
			}
		})
	}
}

func TestProcessStudyReceived_TxWrapsLinkAndExamUpdate(t *testing.T) {
	env := newTestEnv(scheduledExam("P1"))

	var inTx []string
	env.svc.SetTxFunc(func(ctx context.Context, fn func(context.Context) error) error {
		before := len(env.studies.calls) + len(env.exams.calls)
		err := fn(ctx)
		inTx = append(inTx, env.studies.calls[len(env.studies.calls)-1], env.exams.calls[len(env.exams.calls)-1])
		if after := len(env.studies.calls) + len(env.exams.calls); after-before != 2 {
			t.Errorf("expected 2 repository calls in transaction, got %d", after-before)
		}
		return err
	})

	if _, err := env.svc.ProcessStudyReceived(context.Background(), &StudyNotification{StudyID: "S1", PatientID: "P1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inTx) != 2 || inTx[0] != "LinkToExam" || inTx[1] != "MarkImagesReceived" {
		t.Errorf("unexpected calls in transaction: %v", inTx)
	}
}

func TestProcessStudyReceived_RedeliveryKeepsLink(t *testing.T) {
	first := scheduledExam("P1")
	second := scheduledExam("P1")
	env := newTestEnv(first)
	ctx := context.Background()
	n := &StudyNotification{StudyID: "S1", PatientID: "P1", PatientName: "DOE^JOHN", Modality: "CT"}

	ack1, err := env.svc.ProcessStudyReceived(ctx, n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A later exam for the same patient must not capture the redelivered study.
	env.exams.mu.Lock()
	env.exams.exams[second.ID] = second
	env.exams.mu.Unlock()

	n.PatientName = "DOE^JOHN^Q"
	ack2, err := env.svc.ProcessStudyReceived(ctx, n)
	if err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}

	if ack2.ExamID != first.ID.String() || ack2.ViewerURL != ack1.ViewerURL {
		t.Errorf("expected redelivery ack to carry the original link, got %+v want %+v", ack2, ack1)
	}
	study, _ := env.studies.GetByOrthancID(ctx, "S1")
	if study.Status != StudyStatusLinked || study.ExamID == nil || *study.ExamID != first.ID {
		t.Errorf("expected study to stay linked to first exam, got %+v", study)
	}
	if deref(study.PatientName) != "DOE^JOHN^Q" {
		t.Errorf("expected metadata refresh, got patient name %q", deref(study.PatientName))
	}
	if second.Status != ExamStatusScheduled {
		t.Errorf("expected second exam untouched, got %s", second.Status)
	}
	if env.links.calls != 1 {
		t.Errorf("expected 1 viewer link, got %d", env.links.calls)
	}
	if len(env.notifier.notices) != 1 || env.notifier.notices[0].kind != "doctor" {
		t.Errorf("expected a single doctor notice, got %+v", env.notifier.notices)
	}
}

func TestProcessStudyReceived_RedeliveryOfUnassociatedNotifiesOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	n := &StudyNotification{StudyID: "S1", PatientID: "P1"}

	for i := 0; i < 3; i++ {
		ack, err := env.svc.ProcessStudyReceived(ctx, n)
		if err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i, err)
		}
		if ack.ExamID != "" {
			t.Errorf("delivery %d: unexpected exam id %s", i, ack.ExamID)
		}
	}

	study, _ := env.studies.GetByOrthancID(ctx, "S1")
	if study.Status != StudyStatusUnassociated {
		t.Errorf("expected study to stay unassociated, got %s", study.Status)
	}
	if len(env.notifier.notices) != 1 {
		t.Errorf("expected admins to be told once, got %+v", env.notifier.notices)
	}
}

func TestProcessStudyReceived_UnassociatedLinksOnceExamExists(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	n := &StudyNotification{StudyID: "S1", PatientID: "P1"}

	if _, err := env.svc.ProcessStudyReceived(ctx, n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	exam := scheduledExam("P1")
	env.exams.mu.Lock()
	env.exams.exams[exam.ID] = exam
	env.exams.mu.Unlock()

	ack, err := env.svc.ProcessStudyReceived(ctx, n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.ExamID != exam.ID.String() {
		t.Errorf("expected study to link to the new exam, got %+v", ack)
	}
}

func TestProcessStudyReceived_TxFailureRevokesViewerToken(t *testing.T) {
	env := newTestEnv(scheduledExam("P1"))
	env.svc.SetTxFunc(func(ctx context.Context, fn func(context.Context) error) error {
		if err := fn(ctx); err != nil {
			return err
		}
		return errors.New("commit failed")
	})

	if _, err := env.svc.ProcessStudyReceived(context.Background(), &StudyNotification{StudyID: "S1", PatientID: "P1"}); err == nil {
		t.Fatal("expected error when the transaction fails")
	}
	if len(env.links.revoked) != 1 || env.links.revoked[0] != "jti-S1" {
		t.Errorf("expected issued token to be revoked, got %v", env.links.revoked)
	}
	if len(env.notifier.notices) != 0 {
		t.Errorf("expected no doctor notice, got %+v", env.notifier.notices)
	}
}

func TestStudyNotification_ReceivedAt(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		ts   string
		want time.Time
	}{
		{"2024-01-15T10:30:00Z", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"", now},
		{"15/01/2024", now},
	}
	for _, tt := range tests {
		if got := (StudyNotification{Timestamp: tt.ts}).ReceivedAt(now); !got.Equal(tt.want) {
			t.Errorf("ReceivedAt(%q) = %s, want %s", tt.ts, got, tt.want)
		}
	}
}

// -- LinkStudy --

func TestLinkStudy(t *testing.T) {
	exam := scheduledExam("P1")
	env := newTestEnv(exam)
	ctx := context.Background()

	env.studies.Save(ctx, &Study{OrthancStudyID: "S1", PatientID: "P1", Status: StudyStatusUnassociated})

	link, err := env.svc.LinkStudy(ctx, "S1", exam.ID)
	if err != nil {
		t.Fatalf("LinkStudy: %v", err)
	}
	if link.StudyID != "S1" || exam.Status != ExamStatusImagesReceived {
		t.Errorf("expected study linked and exam updated, got link %+v exam %+v", link, exam)
	}
}

func TestLinkStudy_Errors(t *testing.T) {
	exam := scheduledExam("P2")
	env := newTestEnv(exam)
	ctx := context.Background()
	env.studies.Save(ctx, &Study{OrthancStudyID: "S1", PatientID: "P1"})

	if _, err := env.svc.LinkStudy(ctx, "missing", exam.ID); !errors.Is(err, ErrStudyNotFound) {
		t.Errorf("expected ErrStudyNotFound, got %v", err)
	}
	if _, err := env.svc.LinkStudy(ctx, "S1", uuid.New()); !errors.Is(err, ErrExamNotFound) {
		t.Errorf("expected ErrExamNotFound, got %v", err)
	}
	if _, err := env.svc.LinkStudy(ctx, "S1", exam.ID); !errors.Is(err, ErrPatientMismatch) {
		t.Errorf("expected ErrPatientMismatch, got %v", err)
	}
}

// -- ListPatientStudies --

func seedStudies(env *testEnv, patientID string, n int) {
	for i := 0; i < n; i++ {
		env.studies.Save(context.Background(), &Study{
			OrthancStudyID: fmt.Sprintf("S%02d", i),
			PatientID:      patientID,
			Status:         StudyStatusLinked,
		})
	}
}

func TestListPatientStudies_EnrichesInOrder(t *testing.T) {
	env := newTestEnv()
	seedStudies(env, "P1", 12)
	env.fetcher.delay = 5 * time.Millisecond
	env.svc.SetListingConfig(ListingConfig{MaxConcurrency: 3})

	items, total, err := env.svc.ListPatientStudies(context.Background(), "P1", 20, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 12 || len(items) != 12 {
		t.Fatalf("expected 12 items, got %d (total %d)", len(items), total)
	}
	for i, it := range items {
		want := fmt.Sprintf("S%02d", i)
		if it.OrthancStudyID != want {
			t.Errorf("item %d: expected %s, got %s", i, want, it.OrthancStudyID)
		}
		if it.PatientName != "DOE^JOHN" || it.SeriesCount != 2 || it.InstancesCount != 3 || it.ViewerURL == "" {
			t.Errorf("item %d not enriched: %+v", i, it)
		}
		if it.StudyInstanceUID != "1.2.840."+want {
			t.Errorf("item %d: unexpected study instance uid %q", i, it.StudyInstanceUID)
		}
	}
	if peak := atomic.LoadInt32(&env.fetcher.peak); peak > 3 {
		t.Errorf("expected at most 3 concurrent archive calls, saw %d", peak)
	}
}

func TestListPatientStudies_WarnsOnArchivePatientMismatch(t *testing.T) {
	tests := []struct {
		archiveID string
		warn      bool
	}{
		{"P1", false},
		{"", false},
		{"P2", true},
	}

	for _, tt := range tests {
		t.Run("archive="+tt.archiveID, func(t *testing.T) {
			env := newTestEnv()
			var buf bytes.Buffer
			env.svc.logger = zerolog.New(&buf)
			env.fetcher.patientID = tt.archiveID
			seedStudies(env, "P1", 1)

			if _, _, err := env.svc.ListPatientStudies(context.Background(), "P1", 10, 0, false); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := strings.Contains(buf.String(), `"archive_patient_id":"P2"`); got != tt.warn {
				t.Errorf("expected warning %v, log %s", tt.warn, buf.String())
			}
		})
	}
}

func TestListPatientStudies_StrictFailsEntirely(t *testing.T) {
	env := newTestEnv()
	seedStudies(env, "P1", 5)
	env.fetcher.fail = map[string]error{"S02": &archive.StatusError{StatusCode: 500, Path: "/studies/S02"}}

	items, _, err := env.svc.ListPatientStudies(context.Background(), "P1", 20, 0, false)
	if err == nil {
		t.Fatal("expected listing to fail")
	}
	if items != nil {
		t.Errorf("expected no partial results, got %d items", len(items))
	}
}

func TestListPatientStudies_PartialIsolatesFailures(t *testing.T) {
	env := newTestEnv()
	seedStudies(env, "P1", 4)
	env.fetcher.fail = map[string]error{
		"S01": &archive.StatusError{StatusCode: 404, Path: "/studies/S01"},
		"S03": context.DeadlineExceeded,
	}

	items, total, err := env.svc.ListPatientStudies(context.Background(), "P1", 20, 0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 4 || len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}

	wantErr := map[string]string{
		"S00": "",
		"S01": "study not found in archive",
		"S02": "",
		"S03": "archive request timed out",
	}
	for _, it := range items {
		if it.Error != wantErr[it.OrthancStudyID] {
			t.Errorf("%s: expected error %q, got %q", it.OrthancStudyID, wantErr[it.OrthancStudyID], it.Error)
		}
		if it.Error == "" && it.SeriesCount != 2 {
			t.Errorf("%s: expected enriched entry, got %+v", it.OrthancStudyID, it)
		}
	}
}

func TestListPatientStudies_Empty(t *testing.T) {
	env := newTestEnv()

	items, total, err := env.svc.ListPatientStudies(context.Background(), "P1", 20, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items == nil || len(items) != 0 || total != 0 {
		t.Errorf("expected empty non-nil slice, got %#v (total %d)", items, total)
	}
	if env.fetcher.calls != 0 {
		t.Error("expected no archive calls")
	}
}

func TestListPatientStudies_Paginates(t *testing.T) {
	env := newTestEnv()
	seedStudies(env, "P1", 5)

	items, total, err := env.svc.ListPatientStudies(context.Background(), "P1", 2, 2, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 || len(items) != 2 || items[0].OrthancStudyID != "S02" {
		t.Errorf("unexpected page %+v (total %d)", items, total)
	}
	if env.fetcher.calls != 2 {
		t.Errorf("expected archive calls only for the page, got %d", env.fetcher.calls)
	}
}

func TestEnrichmentError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&archive.StatusError{StatusCode: 404}, "study not found in archive"},
		{fmt.Errorf("archive: GET /studies/x: %w", context.DeadlineExceeded), "archive request timed out"},
		{errors.New("connection refused"), "archive unavailable"},
	}
	for _, tt := range tests {
		if got := enrichmentError(tt.err); got != tt.want {
			t.Errorf("enrichmentError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

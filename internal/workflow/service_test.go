package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medscribe/console/internal/platform/engine"
	"github.com/medscribe/console/internal/soap"
)

type mockEngine struct {
	pingErr    error
	approveRes *engine.ApprovePlanResult
	approveErr error
	updateErr  error

	// When set, ApprovePlan signals approveStarted and then blocks until
	// approveRelease is closed, so a test can act mid-flight.
	approveStarted chan struct{}
	approveRelease chan struct{}

	approveCalls []engine.ApprovePlanRequest
	updateCalls  []int64
}

func (m *mockEngine) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockEngine) ProcessAudio(ctx context.Context, session string, audio io.Reader, fileName string, realtime bool, patientID *int64) (*engine.ProcessAudioResult, error) {
	sections, _ := json.Marshal(map[string]string{"S": "Cough", "O": "Clear lungs", "A": "Viral", "P": "Fluids"})
	return &engine.ProcessAudioResult{
		Transcript:    "patient has a cough",
		SoapSections:  sections,
		AudioFileName: fileName,
	}, nil
}

func (m *mockEngine) ApprovePlan(ctx context.Context, session string, req engine.ApprovePlanRequest) (*engine.ApprovePlanResult, error) {
	m.approveCalls = append(m.approveCalls, req)
	if m.approveStarted != nil {
		m.approveStarted <- struct{}{}
	}
	if m.approveRelease != nil {
		<-m.approveRelease
	}
	if m.approveErr != nil {
		return nil, m.approveErr
	}
	if m.approveRes != nil {
		return m.approveRes, nil
	}
	return &engine.ApprovePlanResult{Status: "success"}, nil
}

func (m *mockEngine) UpdateSoapRecord(ctx context.Context, session string, recordID int64, sections map[string]string) (*engine.UpdateRecordResult, error) {
	m.updateCalls = append(m.updateCalls, recordID)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &engine.UpdateRecordResult{Status: "success", RecordID: recordID}, nil
}

type mockDraftRepo struct {
	byUser map[string]soap.Sections
	getErr error
	putErr error
}

func newMockDraftRepo() *mockDraftRepo {
	return &mockDraftRepo{byUser: map[string]soap.Sections{}}
}

func (m *mockDraftRepo) Get(ctx context.Context, userID string) (soap.Sections, bool, error) {
	if m.getErr != nil {
		return soap.Sections{}, false, m.getErr
	}
	s, ok := m.byUser[userID]
	return s, ok, nil
}

func (m *mockDraftRepo) Put(ctx context.Context, userID string, sections soap.Sections) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.byUser[userID] = sections
	return nil
}

const testUser = "doc@example.com"

func newTestService(eng *mockEngine, repo *mockDraftRepo) *Service {
	return NewService(NewStore(), eng, repo, zerolog.Nop())
}

func seedDrafted(t *testing.T, svc *Service) {
	t.Helper()
	svc.SelectPatient(testUser, PatientRef{ID: 7, Name: "Jane Roe", Email: "jane@example.com"})
	_, err := svc.LoadResult(context.Background(), testUser, &engine.ProcessAudioResult{
		Transcript:    "visit transcript",
		SoapSections:  json.RawMessage(`{"S":"Headache","O":"BP normal","A":"Tension","P":"Rest"}`),
		AudioFileName: "visit.wav",
	})
	if err != nil {
		t.Fatalf("LoadResult: %v", err)
	}
}

func seedApproved(t *testing.T, svc *Service) {
	t.Helper()
	seedDrafted(t, svc)
	if _, err := svc.ApprovePlan(context.Background(), testUser, "sess"); err != nil {
		t.Fatalf("ApprovePlan: %v", err)
	}
}

func seedPreviewed(t *testing.T, svc *Service, eng *mockEngine) {
	t.Helper()
	seedApproved(t, svc)
	eng.approveRes = &engine.ApprovePlanResult{
		Status:             "success",
		AppointmentPreview: &engine.PreviewResult{EmailContent: "Dear Jane, rest well."},
	}
	if _, err := svc.GeneratePreview(context.Background(), testUser, "sess"); err != nil {
		t.Fatalf("GeneratePreview: %v", err)
	}
	eng.approveRes = nil
}

func TestProcessAudioCachesDraft(t *testing.T) {
	eng := &mockEngine{}
	repo := newMockDraftRepo()
	svc := newTestService(eng, repo)

	svc.SelectPatient(testUser, PatientRef{ID: 7, Name: "Jane Roe"})
	snap, err := svc.ProcessAudio(context.Background(), testUser, "sess", nil, "visit.wav", false)
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	if snap.State != StateDrafted {
		t.Fatalf("state = %s, want drafted", snap.State)
	}
	if snap.Draft.S != "Cough" {
		t.Fatalf("draft.S = %q", snap.Draft.S)
	}
	cached, ok, _ := repo.Get(context.Background(), testUser)
	if !ok || cached.S != "Cough" {
		t.Fatalf("cache = %+v (%v), want processed sections", cached, ok)
	}
}

func TestProcessAudioWithoutPatient(t *testing.T) {
	svc := newTestService(&mockEngine{}, newMockDraftRepo())
	_, err := svc.ProcessAudio(context.Background(), testUser, "sess", nil, "visit.wav", false)
	if !errors.Is(err, ErrNoPatient) {
		t.Fatalf("err = %v, want ErrNoPatient", err)
	}
}

func TestApprovePlanSendsPlanWithoutEmail(t *testing.T) {
	eng := &mockEngine{}
	svc := newTestService(eng, newMockDraftRepo())
	seedDrafted(t, svc)

	snap, err := svc.ApprovePlan(context.Background(), testUser, "sess")
	if err != nil {
		t.Fatalf("ApprovePlan: %v", err)
	}
	if !snap.PlanApproved {
		t.Fatal("plan gate not open")
	}
	if len(eng.approveCalls) != 1 {
		t.Fatalf("approve calls = %d, want 1", len(eng.approveCalls))
	}
	req := eng.approveCalls[0]
	if req.SendEmail {
		t.Fatal("plan approval must not request email sending")
	}
	if req.PlanSection != "Rest" {
		t.Fatalf("plan section = %q", req.PlanSection)
	}
	if req.UserEmail != "jane@example.com" {
		t.Fatalf("user email = %q", req.UserEmail)
	}
}

func TestApprovePlanOfflineKeepsGatesClosed(t *testing.T) {
	eng := &mockEngine{pingErr: engine.ErrUnreachable}
	svc := newTestService(eng, newMockDraftRepo())
	seedDrafted(t, svc)

	_, err := svc.ApprovePlan(context.Background(), testUser, "sess")
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("err = %v, want ErrOffline", err)
	}
	snap, _ := svc.Session(testUser)
	if snap.PlanApproved || snap.Busy {
		t.Fatal("connectivity failure must leave gates closed and session idle")
	}
	if len(eng.approveCalls) != 0 {
		t.Fatal("offline pre-flight must prevent the engine call")
	}
}

func TestApprovePlanBackendFailure(t *testing.T) {
	eng := &mockEngine{approveErr: &engine.APIError{StatusCode: 500, Detail: "approval failed"}}
	svc := newTestService(eng, newMockDraftRepo())
	seedDrafted(t, svc)

	_, err := svc.ApprovePlan(context.Background(), testUser, "sess")
	var apiErr *engine.APIError
	if !errors.As(err, &apiErr) || apiErr.Detail != "approval failed" {
		t.Fatalf("err = %v, want APIError with backend detail", err)
	}
	snap, _ := svc.Session(testUser)
	if snap.PlanApproved || snap.Busy {
		t.Fatal("backend failure must not advance state")
	}
}

func TestSelectPatientDuringApproveDropsStaleApproval(t *testing.T) {
	eng := &mockEngine{
		approveStarted: make(chan struct{}),
		approveRelease: make(chan struct{}),
	}
	svc := newTestService(eng, newMockDraftRepo())
	seedDrafted(t, svc)

	done := make(chan error, 1)
	go func() {
		_, err := svc.ApprovePlan(context.Background(), testUser, "sess")
		done <- err
	}()

	// Switch patients while the approval response is still outstanding.
	<-eng.approveStarted
	svc.SelectPatient(testUser, PatientRef{ID: 8, Name: "John Doe"})
	close(eng.approveRelease)
	<-done

	snap, err := svc.Session(testUser)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if snap.State != StateIdle {
		t.Fatalf("state = %s, want idle", snap.State)
	}
	if snap.PlanApproved {
		t.Fatal("approval for the previous patient leaked into the new selection")
	}
	if snap.Busy {
		t.Fatal("new selection left busy by the superseded call")
	}
}

func TestGeneratePreviewStoresContent(t *testing.T) {
	eng := &mockEngine{}
	svc := newTestService(eng, newMockDraftRepo())
	seedApproved(t, svc)

	eng.approveRes = &engine.ApprovePlanResult{
		Status:             "success",
		AppointmentPreview: &engine.PreviewResult{EmailContent: "Dear Jane, rest well."},
	}
	snap, err := svc.GeneratePreview(context.Background(), testUser, "sess")
	if err != nil {
		t.Fatalf("GeneratePreview: %v", err)
	}
	if !snap.EmailPreviewGenerated || snap.EmailPreview != "Dear Jane, rest well." {
		t.Fatalf("preview not installed: %+v", snap)
	}
}

func TestGeneratePreviewEmptyContentFails(t *testing.T) {
	eng := &mockEngine{}
	svc := newTestService(eng, newMockDraftRepo())
	seedApproved(t, svc)

	// HTTP success with no usable preview content is still a failure.
	eng.approveRes = &engine.ApprovePlanResult{Status: "success"}
	_, err := svc.GeneratePreview(context.Background(), testUser, "sess")
	var apiErr *engine.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	snap, _ := svc.Session(testUser)
	if snap.EmailPreviewGenerated {
		t.Fatal("empty preview must not open the preview gate")
	}
	if !snap.PlanApproved {
		t.Fatal("failed preview must not regress the plan gate")
	}
}

func TestSendEmailHappyPath(t *testing.T) {
	eng := &mockEngine{}
	svc := newTestService(eng, newMockDraftRepo())
	seedPreviewed(t, svc, eng)
	if _, err := svc.EditPreview(testUser, "Edited email body"); err != nil {
		t.Fatalf("EditPreview: %v", err)
	}
	if _, err := svc.ApproveEmail(testUser); err != nil {
		t.Fatalf("ApproveEmail: %v", err)
	}

	snap, err := svc.SendEmail(context.Background(), testUser, "sess")
	if err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if snap.State != StateSent {
		t.Fatalf("state = %s, want sent", snap.State)
	}

	last := eng.approveCalls[len(eng.approveCalls)-1]
	if !last.SendEmail {
		t.Fatal("send must set send_email")
	}
	if last.EmailContent != "Edited email body" {
		t.Fatalf("email content = %q, want the edited preview", last.EmailContent)
	}
}

func TestSendEmailReportedErrorInsideSuccess(t *testing.T) {
	eng := &mockEngine{}
	svc := newTestService(eng, newMockDraftRepo())
	seedPreviewed(t, svc, eng)
	if _, err := svc.ApproveEmail(testUser); err != nil {
		t.Fatalf("ApproveEmail: %v", err)
	}

	eng.approveRes = &engine.ApprovePlanResult{
		Status:             "success",
		AppointmentSending: &engine.SendingResult{Status: "error", Error: "smtp rejected"},
	}
	_, err := svc.SendEmail(context.Background(), testUser, "sess")
	var apiErr *engine.APIError
	if !errors.As(err, &apiErr) || apiErr.Detail != "smtp rejected" {
		t.Fatalf("err = %v, want backend send failure", err)
	}
	snap, _ := svc.Session(testUser)
	if snap.State == StateSent {
		t.Fatal("reported send error must not mark the session sent")
	}
	if !snap.EmailApproved {
		t.Fatal("failed send must leave the email gate open")
	}
}

func TestSendEmailRequiresApproval(t *testing.T) {
	eng := &mockEngine{}
	svc := newTestService(eng, newMockDraftRepo())
	seedPreviewed(t, svc, eng)

	_, err := svc.SendEmail(context.Background(), testUser, "sess")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestSaveChangesLocalOnlyWithoutRecord(t *testing.T) {
	eng := &mockEngine{}
	repo := newMockDraftRepo()
	svc := newTestService(eng, repo)
	seedDrafted(t, svc)

	out, err := svc.SaveChanges(context.Background(), testUser, "sess", soap.Sections{S: "Updated", P: "New plan"})
	if err != nil {
		t.Fatalf("SaveChanges: %v", err)
	}
	if out.Persisted {
		t.Fatal("save without a record id must be local only")
	}
	if len(eng.updateCalls) != 0 {
		t.Fatal("no engine update expected without a record id")
	}
	cached, ok, _ := repo.Get(context.Background(), testUser)
	if !ok || cached.S != "Updated" {
		t.Fatalf("cache = %+v (%v)", cached, ok)
	}
}

func TestSaveChangesUpdatesEngineRecord(t *testing.T) {
	eng := &mockEngine{}
	svc := newTestService(eng, newMockDraftRepo())
	svc.SelectPatient(testUser, PatientRef{ID: 7, Name: "Jane Roe"})
	recordID := int64(42)
	if _, err := svc.LoadResult(context.Background(), testUser, &engine.ProcessAudioResult{
		Transcript:   "t",
		SoapSections: json.RawMessage(`{"S":"a","P":"b"}`),
		SoapRecordID: &recordID,
	}); err != nil {
		t.Fatalf("LoadResult: %v", err)
	}

	out, err := svc.SaveChanges(context.Background(), testUser, "sess", soap.Sections{S: "x", P: "y"})
	if err != nil {
		t.Fatalf("SaveChanges: %v", err)
	}
	if !out.Persisted {
		t.Fatal("save with a record id must persist to the engine")
	}
	if len(eng.updateCalls) != 1 || eng.updateCalls[0] != 42 {
		t.Fatalf("update calls = %v, want [42]", eng.updateCalls)
	}
}

func TestExportDraft(t *testing.T) {
	eng := &mockEngine{}
	svc := newTestService(eng, newMockDraftRepo())

	if _, _, err := svc.ExportDraft(testUser); !errors.Is(err, ErrNoPatient) {
		t.Fatalf("export without session = %v, want ErrNoPatient", err)
	}

	seedDrafted(t, svc)
	name, export, err := svc.ExportDraft(testUser)
	if err != nil {
		t.Fatalf("ExportDraft: %v", err)
	}
	if name != "visit.wav_latest.json" {
		t.Fatalf("name = %q", name)
	}
	if export.SoapSections.S != "Headache" || export.Transcript != "visit transcript" {
		t.Fatalf("export = %+v", export)
	}
}

func TestDraftCacheFailureDoesNotBlockWorkflow(t *testing.T) {
	eng := &mockEngine{}
	repo := newMockDraftRepo()
	repo.putErr = errors.New("db down")
	svc := newTestService(eng, repo)

	svc.SelectPatient(testUser, PatientRef{ID: 7, Name: "Jane Roe"})
	snap, err := svc.ProcessAudio(context.Background(), testUser, "sess", nil, "visit.wav", false)
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	if snap.State != StateDrafted {
		t.Fatal("cache failure must not block the transition")
	}
}

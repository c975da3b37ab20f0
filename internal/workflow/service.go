package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/medscribe/console/internal/platform/engine"
	"github.com/medscribe/console/internal/soap"
)

// EngineAPI is the slice of the engine client the workflow uses.
type EngineAPI interface {
	Ping(ctx context.Context) error
	ProcessAudio(ctx context.Context, session string, audio io.Reader, fileName string, realtime bool, patientID *int64) (*engine.ProcessAudioResult, error)
	ApprovePlan(ctx context.Context, session string, req engine.ApprovePlanRequest) (*engine.ApprovePlanResult, error)
	UpdateSoapRecord(ctx context.Context, session string, recordID int64, sections map[string]string) (*engine.UpdateRecordResult, error)
}

// Service drives the approval workflow: it owns the per-clinician sessions,
// runs the pre-flight connectivity check before every network-bound
// transition, and commits gate changes only on success.
type Service struct {
	store  *Store
	eng    EngineAPI
	drafts DraftCacheRepository
	logger zerolog.Logger
}

func NewService(store *Store, eng EngineAPI, drafts DraftCacheRepository, logger zerolog.Logger) *Service {
	return &Service{store: store, eng: eng, drafts: drafts, logger: logger}
}

// SaveOutcome reports where a draft save landed.
type SaveOutcome struct {
	Snapshot *Snapshot `json:"session"`
	// Persisted is true when the engine record was updated; false means the
	// draft only went to the local cache because no record id exists yet.
	Persisted bool `json:"persisted"`
}

// SelectPatient starts a fresh session for the given patient, discarding any
// previous workflow state before new data loads.
func (s *Service) SelectPatient(userID string, patient PatientRef) *Snapshot {
	sess := s.store.GetOrCreate(userID)
	sess.Reset(&patient)
	return sess.Snapshot()
}

// Session returns the clinician's current session snapshot.
func (s *Service) Session(userID string) (*Snapshot, error) {
	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, ErrNoPatient
	}
	return sess.Snapshot(), nil
}

// ProcessAudio uploads consultation audio to the engine and installs the
// processed result as the new draft.
func (s *Service) ProcessAudio(ctx context.Context, userID, engineSession string, audio io.Reader, fileName string, realtime bool) (*Snapshot, error) {
	sess, ok := s.store.Get(userID)
	if !ok || sess.Snapshot().Patient == nil {
		return nil, ErrNoPatient
	}
	patientID := sess.Snapshot().Patient.ID

	res, err := s.eng.ProcessAudio(ctx, engineSession, audio, fileName, realtime, &patientID)
	if err != nil {
		return nil, classify(err)
	}
	return s.installResult(ctx, userID, sess, res)
}

// LoadResult installs an already-processed engine result (e.g. from a
// real-time recording handled elsewhere).
func (s *Service) LoadResult(ctx context.Context, userID string, res *engine.ProcessAudioResult) (*Snapshot, error) {
	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, ErrNoPatient
	}
	return s.installResult(ctx, userID, sess, res)
}

func (s *Service) installResult(ctx context.Context, userID string, sess *Session, res *engine.ProcessAudioResult) (*Snapshot, error) {
	processed := ProcessedResult{
		Transcript:    res.Transcript,
		Sections:      res.Sections(),
		AudioFileName: res.AudioFileName,
		RecordID:      res.SoapRecordID,
	}
	if err := sess.LoadResult(processed); err != nil {
		return nil, err
	}

	if err := s.drafts.Put(ctx, userID, processed.Sections); err != nil {
		// The cache is an extra safety net, not part of the transition.
		s.logger.Warn().Err(err).Str("user", userID).Msg("failed to cache draft")
	}
	return sess.Snapshot(), nil
}

// SaveChanges persists the edited draft: always to the draft cache, and to
// the engine record when one exists.
func (s *Service) SaveChanges(ctx context.Context, userID, engineSession string, sections soap.Sections) (*SaveOutcome, error) {
	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, ErrNoPatient
	}

	release, err := sess.beginNetworkCall(sess.guardSave)
	if err != nil {
		return nil, err
	}

	if err := s.preflight(ctx); err != nil {
		release(nil)
		return nil, err
	}

	recordID := sess.Snapshot().RecordID

	persisted := false
	if recordID != nil {
		if _, err := s.eng.UpdateSoapRecord(ctx, engineSession, *recordID, sections.Map()); err != nil {
			release(nil)
			return nil, classify(err)
		}
		persisted = true
	}

	release(func() {
		sess.draft = sections
	})

	if err := s.drafts.Put(ctx, userID, sections); err != nil {
		s.logger.Warn().Err(err).Str("user", userID).Msg("failed to cache draft")
	}
	return &SaveOutcome{Snapshot: sess.Snapshot(), Persisted: persisted}, nil
}

// ApprovePlan submits the Plan section for approval without sending email.
func (s *Service) ApprovePlan(ctx context.Context, userID, engineSession string) (*Snapshot, error) {
	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, ErrNoPatient
	}

	release, err := sess.beginNetworkCall(sess.guardApprovePlan)
	if err != nil {
		return nil, err
	}

	if err := s.preflight(ctx); err != nil {
		release(nil)
		return nil, err
	}

	snap := sess.Snapshot()
	req := engine.ApprovePlanRequest{
		PlanSection: snap.Draft.P,
		UserEmail:   snap.PatientEmail,
		SendEmail:   false,
	}
	if _, err := s.eng.ApprovePlan(ctx, engineSession, req); err != nil {
		release(nil)
		return nil, classify(err)
	}

	release(func() {
		sess.state = StatePlanApproved
	})
	return sess.Snapshot(), nil
}

// GeneratePreview asks the engine for the patient email content derived from
// the approved plan. An empty preview is a failure even on HTTP success.
func (s *Service) GeneratePreview(ctx context.Context, userID, engineSession string) (*Snapshot, error) {
	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, ErrNoPatient
	}

	release, err := sess.beginNetworkCall(sess.guardGeneratePreview)
	if err != nil {
		return nil, err
	}

	if err := s.preflight(ctx); err != nil {
		release(nil)
		return nil, err
	}

	snap := sess.Snapshot()
	req := engine.ApprovePlanRequest{
		PlanSection: snap.Draft.P,
		UserEmail:   snap.PatientEmail,
		SendEmail:   false,
	}
	res, err := s.eng.ApprovePlan(ctx, engineSession, req)
	if err != nil {
		release(nil)
		return nil, classify(err)
	}

	content := ""
	if res.AppointmentPreview != nil {
		content = res.AppointmentPreview.EmailContent
	}
	if strings.TrimSpace(content) == "" {
		release(nil)
		return nil, &engine.APIError{StatusCode: 502, Detail: "email preview was empty"}
	}

	release(func() {
		sess.emailPreview = content
		sess.state = StatePreviewGenerated
	})
	return sess.Snapshot(), nil
}

// EditPreview replaces the preview text without touching any gate.
func (s *Service) EditPreview(userID, content string) (*Snapshot, error) {
	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, ErrNoPatient
	}
	if err := sess.EditPreview(content); err != nil {
		return nil, err
	}
	return sess.Snapshot(), nil
}

// ApproveEmail opens the final gate. Local only: no network call is made.
func (s *Service) ApproveEmail(userID string) (*Snapshot, error) {
	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, ErrNoPatient
	}
	if err := sess.ApproveEmail(); err != nil {
		return nil, err
	}
	return sess.Snapshot(), nil
}

// SetPatientEmail records the recipient address for the plan email.
func (s *Service) SetPatientEmail(userID, email string) (*Snapshot, error) {
	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, ErrNoPatient
	}
	if err := sess.SetPatientEmail(email); err != nil {
		return nil, err
	}
	return sess.Snapshot(), nil
}

// UpdateDraft applies local edits to the sections without persisting.
func (s *Service) UpdateDraft(userID string, sections soap.Sections) (*Snapshot, error) {
	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, ErrNoPatient
	}
	if err := sess.UpdateDraft(sections); err != nil {
		return nil, err
	}
	return sess.Snapshot(), nil
}

// SendEmail dispatches the approved, possibly edited, email. The nested
// send result is inspected: a reported error counts as a backend failure
// even inside an HTTP success.
func (s *Service) SendEmail(ctx context.Context, userID, engineSession string) (*Snapshot, error) {
	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, ErrNoPatient
	}

	release, err := sess.beginNetworkCall(sess.guardSend)
	if err != nil {
		return nil, err
	}

	if err := s.preflight(ctx); err != nil {
		release(nil)
		return nil, err
	}

	snap := sess.Snapshot()
	req := engine.ApprovePlanRequest{
		PlanSection:  snap.Draft.P,
		UserEmail:    snap.PatientEmail,
		SendEmail:    true,
		EmailContent: snap.EmailPreview,
	}
	res, err := s.eng.ApprovePlan(ctx, engineSession, req)
	if err != nil {
		release(nil)
		return nil, classify(err)
	}

	if res.AppointmentSending != nil && res.AppointmentSending.Status == "error" {
		release(nil)
		detail := res.AppointmentSending.Error
		if detail == "" {
			detail = "failed to send email"
		}
		return nil, &engine.APIError{StatusCode: 502, Detail: detail}
	}

	release(func() {
		sess.state = StateSent
	})
	return sess.Snapshot(), nil
}

// ExportDraft returns the downloadable form of the current draft and the
// file name to serve it under.
func (s *Service) ExportDraft(userID string) (string, *DraftExport, error) {
	sess, ok := s.store.Get(userID)
	if !ok {
		return "", nil, ErrNoPatient
	}
	snap := sess.Snapshot()
	if snap.State < StateDrafted {
		return "", nil, ErrNoDraft
	}

	name := snap.AudioFileName
	if name == "" {
		name = "soap"
	}
	export := &DraftExport{
		AudioFileName: snap.AudioFileName,
		SoapSections:  snap.Draft,
		Transcript:    snap.Transcript,
	}
	return name + "_latest.json", export, nil
}

// CachedDraft exposes the durable draft cache, used by the chat assistant as
// a fallback summary source.
func (s *Service) CachedDraft(ctx context.Context, userID string) (soap.Sections, bool, error) {
	return s.drafts.Get(ctx, userID)
}

// preflight is the connectivity check run before dispatching any
// network-bound transition.
func (s *Service) preflight(ctx context.Context) error {
	if err := s.eng.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	return nil
}

// classify folds transport failures into the offline channel; engine-level
// errors pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isUnreachable(err) {
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	return err
}

func isUnreachable(err error) bool {
	return errors.Is(err, engine.ErrUnreachable)
}

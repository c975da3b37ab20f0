package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/medscribe/console/internal/soap"
)

// Error taxonomy. Validation errors block an action before any network I/O
// and are shown inline; ErrOffline means the engine cannot be reached and is
// shown on the prominent banner channel; engine-reported failures pass
// through as *engine.APIError. No failure ever moves a gate.
var (
	ErrValidation = errors.New("validation failed")
	ErrOffline    = errors.New("network connection failed")
	ErrBusy       = errors.New("another action is in progress")
	ErrNoPatient  = errors.New("no patient selected")
	ErrNoDraft    = errors.New("no processed result loaded")
)

// Reset clears the session for a new patient. Everything downstream of the
// selection is discarded; there is no cross-patient carry-over.
func (s *Session) Reset(patient *PatientRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patient = patient
	s.patientEmail = ""
	if patient != nil {
		s.patientEmail = patient.Email
	}
	s.state = StateIdle
	s.draft = soap.Sections{}
	s.transcript = ""
	s.audioFileName = ""
	s.recordID = nil
	s.emailPreview = ""
	s.busy = false
	s.gen++
}

// LoadResult installs a fresh processed result, moving the session to
// Drafted and force-resetting every downstream gate.
func (s *Session) LoadResult(res ProcessedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.patient == nil {
		return ErrNoPatient
	}

	s.draft = res.Sections
	s.transcript = res.Transcript
	s.audioFileName = res.AudioFileName
	s.recordID = res.RecordID
	s.emailPreview = ""
	s.state = StateDrafted
	s.busy = false
	s.gen++
	return nil
}

// UpdateDraft replaces the editable sections. Editing the Plan after a
// preview was generated deliberately leaves the downstream gates in place;
// see the repository design notes.
func (s *Session) UpdateDraft(sections soap.Sections) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state < StateDrafted {
		return ErrNoDraft
	}
	s.draft = sections
	return nil
}

// SetPatientEmail sets the recipient address used for the plan email.
func (s *Session) SetPatientEmail(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.patient == nil {
		return ErrNoPatient
	}
	s.patientEmail = email
	return nil
}

// EditPreview mutates the preview text in place. It does not invalidate the
// preview or email-approval gates.
func (s *Session) EditPreview(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state < StatePreviewGenerated {
		return fmt.Errorf("%w: no preview to edit", ErrValidation)
	}
	s.emailPreview = content
	return nil
}

// ApproveEmail opens the email gate. Purely local: no network call.
func (s *Session) ApproveEmail() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state < StatePreviewGenerated {
		return fmt.Errorf("%w: generate an email preview first", ErrValidation)
	}
	if strings.TrimSpace(s.emailPreview) == "" {
		return fmt.Errorf("%w: email content cannot be empty", ErrValidation)
	}
	s.state = StateEmailApproved
	return nil
}

// beginNetworkCall validates the gate for a network-bound action and takes
// the shared busy flag. The returned release func must be called when the
// call settles; commit is invoked under the lock only on success. A reset
// or a new processed result while the call is in flight invalidates it: the
// stale release then drops its commit and leaves the session untouched.
func (s *Session) beginNetworkCall(guard func() error) (func(commit func()), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, ErrBusy
	}
	if err := guard(); err != nil {
		return nil, err
	}
	s.busy = true
	gen := s.gen

	release := func(commit func()) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != gen {
			return
		}
		if commit != nil {
			commit()
		}
		s.busy = false
	}
	return release, nil
}

func (s *Session) guardSave() error {
	if s.state < StateDrafted {
		return ErrNoDraft
	}
	return nil
}

func (s *Session) guardApprovePlan() error {
	if s.state < StateDrafted {
		return ErrNoDraft
	}
	if strings.TrimSpace(s.draft.P) == "" {
		return fmt.Errorf("%w: plan section cannot be empty", ErrValidation)
	}
	return nil
}

func (s *Session) guardGeneratePreview() error {
	if s.state < StatePlanApproved {
		return fmt.Errorf("%w: approve the plan first", ErrValidation)
	}
	return nil
}

func (s *Session) guardSend() error {
	if s.state < StateEmailApproved {
		return fmt.Errorf("%w: approve the email before sending", ErrValidation)
	}
	return nil
}

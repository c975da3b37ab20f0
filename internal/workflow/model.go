// Package workflow implements the clinical approval sequence: a processed
// consultation becomes an editable SOAP draft, whose Plan is approved, turned
// into a patient email preview, approved again, and finally sent. All gating,
// validation and error state for that sequence lives here.
package workflow

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/medscribe/console/internal/soap"
)

// State is the position of a session in the approval sequence. Later states
// imply every earlier gate: EmailApproved means the preview was generated,
// which means the plan was approved.
type State int

const (
	StateIdle State = iota
	StateDrafted
	StatePlanApproved
	StatePreviewGenerated
	StateEmailApproved
	StateSent
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateDrafted:          "drafted",
	StatePlanApproved:     "plan_approved",
	StatePreviewGenerated: "preview_generated",
	StateEmailApproved:    "email_approved",
	StateSent:             "sent",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for state, n := range stateNames {
		if n == name {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("workflow: unknown state %q", name)
}

// PatientRef identifies the patient the active session belongs to.
type PatientRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// ProcessedResult is the normalized outcome of one audio-processing call.
// It is immutable once received; loading one resets all downstream state.
type ProcessedResult struct {
	Transcript    string        `json:"transcript"`
	Sections      soap.Sections `json:"soap_sections"`
	AudioFileName string        `json:"audio_file_name"`
	RecordID      *int64        `json:"soap_record_id,omitempty"`
}

// Session is one clinician's active editing session. It is owned by exactly
// one patient selection and never carries state across patients.
type Session struct {
	mu sync.Mutex

	userID       string
	patient      *PatientRef
	patientEmail string

	state         State
	draft         soap.Sections
	transcript    string
	audioFileName string
	recordID      *int64
	emailPreview  string

	// busy covers the network-bound actions collectively: while any one is
	// in flight, all of them are refused.
	busy bool

	// gen identifies the current patient selection and draft. A network call
	// begun under an older generation must not commit into the new one.
	gen uint64
}

func newSession(userID string) *Session {
	return &Session{userID: userID, state: StateIdle}
}

// Snapshot is the externally visible view of a session.
type Snapshot struct {
	State                 State         `json:"state"`
	Patient               *PatientRef   `json:"patient,omitempty"`
	PatientEmail          string        `json:"patient_email,omitempty"`
	Draft                 soap.Sections `json:"draft"`
	Transcript            string        `json:"transcript,omitempty"`
	AudioFileName         string        `json:"audio_file_name,omitempty"`
	RecordID              *int64        `json:"record_id,omitempty"`
	EmailPreview          string        `json:"email_preview,omitempty"`
	PlanApproved          bool          `json:"plan_approved"`
	EmailPreviewGenerated bool          `json:"email_preview_generated"`
	EmailApproved         bool          `json:"email_approved"`
	Busy                  bool          `json:"busy"`
}

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() *Snapshot {
	var patient *PatientRef
	if s.patient != nil {
		p := *s.patient
		patient = &p
	}
	return &Snapshot{
		State:                 s.state,
		Patient:               patient,
		PatientEmail:          s.patientEmail,
		Draft:                 s.draft,
		Transcript:            s.transcript,
		AudioFileName:         s.audioFileName,
		RecordID:              s.recordID,
		EmailPreview:          s.emailPreview,
		PlanApproved:          s.state >= StatePlanApproved,
		EmailPreviewGenerated: s.state >= StatePreviewGenerated,
		EmailApproved:         s.state >= StateEmailApproved,
		Busy:                  s.busy,
	}
}

// DraftExport is the downloadable form of the current draft.
type DraftExport struct {
	AudioFileName string        `json:"audio_file_name"`
	SoapSections  soap.Sections `json:"soap_sections"`
	Transcript    string        `json:"transcript"`
}

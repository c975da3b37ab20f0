// Package patient proxies the engine's patient registry and the per-patient
// consultation history to the console client.
package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/medscribe/console/internal/appointment"
	"github.com/medscribe/console/internal/platform/engine"
	"github.com/medscribe/console/internal/soap"
	"github.com/medscribe/console/internal/workflow"
	"github.com/medscribe/console/pkg/pagination"
)

// EngineAPI is the slice of the engine client the patient service uses.
type EngineAPI interface {
	CreatePatient(ctx context.Context, session string, req engine.CreatePatientRequest) (*engine.PatientResult, error)
	ListPatients(ctx context.Context, session, sessionID string) (*engine.PatientResult, error)
	GetPatient(ctx context.Context, session string, id int64) (*engine.PatientResult, error)
	SoapRecords(ctx context.Context, session string, patientID int64) (*engine.SoapRecordsResult, error)
}

// HistoryEntry is one consultation in a patient's history, with the section
// payload already normalized and appointment details derived from its Plan.
type HistoryEntry struct {
	ID                 int64         `json:"id"`
	AudioFileName      string        `json:"audio_file_name"`
	AudioRef           string        `json:"audio_ref,omitempty"`
	Transcript         string        `json:"transcript"`
	Sections           soap.Sections `json:"soap_sections"`
	AppointmentDetails []string      `json:"appointment_details,omitempty"`
	CreatedAt          string        `json:"created_at,omitempty"`
}

type Service struct {
	eng    EngineAPI
	logger zerolog.Logger
}

func NewService(eng EngineAPI, logger zerolog.Logger) *Service {
	return &Service{eng: eng, logger: logger}
}

// Create registers a new patient with the engine.
func (s *Service) Create(ctx context.Context, session string, req engine.CreatePatientRequest) (*engine.Patient, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: patient name is required", workflow.ErrValidation)
	}
	res, err := s.eng.CreatePatient(ctx, session, req)
	if err != nil {
		return nil, err
	}
	if res.Patient == nil {
		return nil, &engine.APIError{StatusCode: 502, Detail: "patient was not returned"}
	}
	return res.Patient, nil
}

// List returns the clinician's patients, paged in memory: the engine returns
// the full set per clinician.
func (s *Service) List(ctx context.Context, session, sessionID string, page pagination.Params) (*pagination.Response, error) {
	res, err := s.eng.ListPatients(ctx, session, sessionID)
	if err != nil {
		return nil, err
	}
	total := len(res.Patients)
	start, end := page.Slice(total)
	return pagination.NewResponse(res.Patients[start:end], total, page.Limit, page.Offset), nil
}

// Get fetches one patient by id.
func (s *Service) Get(ctx context.Context, session string, id int64) (*engine.Patient, error) {
	res, err := s.eng.GetPatient(ctx, session, id)
	if err != nil {
		return nil, err
	}
	if res.Patient == nil {
		return nil, &engine.APIError{StatusCode: 404, Detail: "patient not found"}
	}
	return res.Patient, nil
}

// History returns the patient's consultation records, newest first as the
// engine orders them, with every section payload normalized.
func (s *Service) History(ctx context.Context, session string, patientID int64, page pagination.Params) (*pagination.Response, error) {
	res, err := s.eng.SoapRecords(ctx, session, patientID)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(res.SoapRecords))
	for _, rec := range res.SoapRecords {
		entries = append(entries, newHistoryEntry(rec))
	}

	total := len(entries)
	start, end := page.Slice(total)
	return pagination.NewResponse(entries[start:end], total, page.Limit, page.Offset), nil
}

// Latest returns the most recent consultation record, or nil when the
// patient has none.
func (s *Service) Latest(ctx context.Context, session string, patientID int64) (*HistoryEntry, error) {
	res, err := s.eng.SoapRecords(ctx, session, patientID)
	if err != nil {
		return nil, err
	}
	if len(res.SoapRecords) == 0 {
		return nil, nil
	}
	entry := newHistoryEntry(res.SoapRecords[0])
	return &entry, nil
}

func newHistoryEntry(rec engine.SoapRecord) HistoryEntry {
	sections := rec.Sections()
	return HistoryEntry{
		ID:                 rec.ID,
		AudioFileName:      rec.AudioFileName,
		AudioRef:           rec.AudioReference(),
		Transcript:         rec.Transcript,
		Sections:           sections,
		AppointmentDetails: appointment.ExtractDetails(sections.P),
		CreatedAt:          rec.CreatedAt,
	}
}

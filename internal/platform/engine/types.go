package engine

import (
	"encoding/json"

	"github.com/medscribe/console/internal/soap"
)

// User is the identity the engine reports for an authenticated session.
type User struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// AuthResult is the response of the google-auth and verify endpoints.
type AuthResult struct {
	Status string `json:"status"`
	User   User   `json:"user"`
}

// StatusMessage is the generic status/message envelope several endpoints use.
type StatusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ProcessAudioResult is the outcome of one audio-processing call. The raw
// section payload is kept opaque here; callers normalize it immediately.
type ProcessAudioResult struct {
	Transcript         string          `json:"transcript"`
	OriginalTranscript string          `json:"original_transcript,omitempty"`
	DiarizedSegments   json.RawMessage `json:"diarized_segments,omitempty"`
	SoapSections       json.RawMessage `json:"soap_sections"`
	AudioFileName      string          `json:"audio_file_name"`
	SoapRecordID       *int64          `json:"soap_record_id,omitempty"`
}

// Sections decodes and normalizes the raw section payload, which may arrive
// as a mapping or as a JSON-encoded string of one.
func (r *ProcessAudioResult) Sections() soap.Sections {
	return soap.Normalize(decodeRaw(r.SoapSections))
}

// ApprovePlanRequest is the payload of the approve_plan endpoint, shared by
// plan approval, preview generation and the final send.
type ApprovePlanRequest struct {
	PlanSection  string `json:"plan_section"`
	UserEmail    string `json:"user_email,omitempty"`
	SendEmail    bool   `json:"send_email"`
	EmailContent string `json:"email_content,omitempty"`
}

// PreviewResult is the nested email-preview block of an approve_plan response.
type PreviewResult struct {
	Status       string `json:"status,omitempty"`
	EmailContent string `json:"email_content,omitempty"`
	Message      string `json:"message,omitempty"`
}

// SendingResult is the nested send-outcome block of an approve_plan response.
// A Status of "error" reports a backend send failure inside an HTTP success.
type SendingResult struct {
	Status  string          `json:"status,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ApprovePlanResult is the full approve_plan response.
type ApprovePlanResult struct {
	Status             string         `json:"status,omitempty"`
	Message            string         `json:"message,omitempty"`
	AppointmentPreview *PreviewResult `json:"appointment_preview,omitempty"`
	AppointmentSending *SendingResult `json:"appointment_sending,omitempty"`
}

// ChatRequest is the payload of the user_chat endpoint.
type ChatRequest struct {
	Question    string        `json:"question"`
	SoapSummary soap.Sections `json:"soap_summary"`
}

// ChatResult is the assistant's answer.
type ChatResult struct {
	Status            string `json:"status"`
	IsRelevant        *bool  `json:"is_relevant,omitempty"`
	Answer            string `json:"answer"`
	ForwardedToDoctor *bool  `json:"forwarded_to_doctor,omitempty"`
	Message           string `json:"message,omitempty"`
}

// Patient is a patient record as the engine stores it.
type Patient struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Email       *string `json:"email,omitempty"`
	Address     *string `json:"address,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Problem     *string `json:"problem,omitempty"`
	CreatedAt   *string `json:"created_at,omitempty"`
}

// CreatePatientRequest is the payload for registering a patient.
type CreatePatientRequest struct {
	Name        string `json:"name"`
	Address     string `json:"address,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Problem     string `json:"problem,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// PatientResult is the envelope of the patient endpoints.
type PatientResult struct {
	Status   string    `json:"status"`
	Message  string    `json:"message,omitempty"`
	Patient  *Patient  `json:"patient,omitempty"`
	Patients []Patient `json:"patients,omitempty"`
}

// SoapRecord is one historical consultation record. Timestamps are kept as
// the engine's strings; the console only displays and orders by them.
type SoapRecord struct {
	ID                 int64           `json:"id"`
	PatientID          int64           `json:"patient_id"`
	AudioFileName      string          `json:"audio_file_name"`
	StoragePath        *string         `json:"storage_path,omitempty"`
	Transcript         string          `json:"transcript"`
	OriginalTranscript *string         `json:"original_transcript,omitempty"`
	SoapSections       json.RawMessage `json:"soap_sections"`
	CreatedAt          string          `json:"created_at"`
	UpdatedAt          string          `json:"updated_at"`
}

// Sections decodes and normalizes the record's raw section payload.
func (r *SoapRecord) Sections() soap.Sections {
	return soap.Normalize(decodeRaw(r.SoapSections))
}

// AudioReference prefers the storage path over the bare file name, matching
// how records are played back.
func (r *SoapRecord) AudioReference() string {
	if r.StoragePath != nil && *r.StoragePath != "" {
		return *r.StoragePath
	}
	return r.AudioFileName
}

// SoapRecordsResult is the envelope of the per-patient record listing.
type SoapRecordsResult struct {
	Status       string       `json:"status"`
	PatientID    int64        `json:"patient_id"`
	SoapRecords  []SoapRecord `json:"soap_records"`
	TotalRecords int          `json:"total_records"`
}

// UpdateRecordResult is the outcome of a record update.
type UpdateRecordResult struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	RecordID int64  `json:"record_id"`
}

func decodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

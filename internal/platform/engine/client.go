// Package engine is the typed REST client for the scribe engine, the
// external service that performs transcription, SOAP generation, email
// composition, chat answering and record persistence. The console never
// does any of that itself.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnreachable reports that the engine could not be reached at all, as
// opposed to the engine answering with an error. Callers surface the two
// through different channels.
var ErrUnreachable = errors.New("scribe engine unreachable")

// APIError is an error response the engine itself produced.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("engine error (%d): %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("engine error (%d)", e.StatusCode)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientConfig struct {
	BaseURL string
	// Timeout applies to every call; zero leaves deadlines to the transport.
	Timeout time.Duration
	// HTTPClient is optional and will default to a fresh client.
	HTTPClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
	}
}

// Ping probes the engine root endpoint. It is the pre-flight reachability
// check run before every network-bound workflow transition.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Message string `json:"message"`
	}
	return c.do(ctx, http.MethodGet, "/", "", nil, &out)
}

// -- Auth passthrough --

// GoogleAuth exchanges a Google token for an engine session. The returned
// session string is the engine's cookie pair(s), relayed on later calls.
func (c *Client) GoogleAuth(ctx context.Context, token string) (*AuthResult, string, error) {
	body := map[string]string{"token": token}
	var out AuthResult
	session, err := c.doCaptureCookies(ctx, http.MethodPost, "/auth/google", "", body, &out)
	if err != nil {
		return nil, "", err
	}
	return &out, session, nil
}

func (c *Client) VerifyToken(ctx context.Context, session string) (*AuthResult, error) {
	var out AuthResult
	if err := c.do(ctx, http.MethodGet, "/auth/verify", session, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshToken renews the engine session. When the engine rotates its
// cookie the new session string is returned, otherwise the old one.
func (c *Client) RefreshToken(ctx context.Context, session string) (*StatusMessage, string, error) {
	var out StatusMessage
	newSession, err := c.doCaptureCookies(ctx, http.MethodPost, "/auth/refresh", session, nil, &out)
	if err != nil {
		return nil, "", err
	}
	if newSession == "" {
		newSession = session
	}
	return &out, newSession, nil
}

func (c *Client) Logout(ctx context.Context, session string) (*StatusMessage, error) {
	var out StatusMessage
	if err := c.do(ctx, http.MethodPost, "/auth/logout", session, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -- Audio processing --

// ProcessAudio uploads consultation audio for transcription and SOAP
// generation. The audio stream is sent as multipart form data.
func (c *Client) ProcessAudio(ctx context.Context, session string, audio io.Reader, fileName string, realtime bool, patientID *int64) (*ProcessAudioResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("audio", fileName)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("copy audio: %w", err)
	}
	if err := mw.WriteField("is_realtime", strconv.FormatBool(realtime)); err != nil {
		return nil, fmt.Errorf("write is_realtime: %w", err)
	}
	if patientID != nil {
		if err := mw.WriteField("patient_id", strconv.FormatInt(*patientID, 10)); err != nil {
			return nil, fmt.Errorf("write patient_id: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process_audio", &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	setNoStore(req)
	setSession(req, session)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	var out ProcessAudioResult
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -- Plan approval / email --

func (c *Client) ApprovePlan(ctx context.Context, session string, req ApprovePlanRequest) (*ApprovePlanResult, error) {
	var out ApprovePlanResult
	if err := c.do(ctx, http.MethodPost, "/approve_plan", session, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -- Chat --

func (c *Client) UserChat(ctx context.Context, session string, req ChatRequest) (*ChatResult, error) {
	var out ChatResult
	if err := c.do(ctx, http.MethodPost, "/user_chat", session, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -- Patients --

func (c *Client) CreatePatient(ctx context.Context, session string, req CreatePatientRequest) (*PatientResult, error) {
	var out PatientResult
	if err := c.do(ctx, http.MethodPost, "/patients", session, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListPatients(ctx context.Context, session, sessionID string) (*PatientResult, error) {
	path := "/patients"
	if sessionID != "" {
		path += "?session_id=" + url.QueryEscape(sessionID)
	}
	var out PatientResult
	if err := c.do(ctx, http.MethodGet, path, session, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPatient(ctx context.Context, session string, id int64) (*PatientResult, error) {
	var out PatientResult
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/patients/%d", id), session, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -- Records --

func (c *Client) SoapRecords(ctx context.Context, session string, patientID int64) (*SoapRecordsResult, error) {
	var out SoapRecordsResult
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/patient/%d/soap_records", patientID), session, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateSoapRecord(ctx context.Context, session string, recordID int64, sections map[string]string) (*UpdateRecordResult, error) {
	body := map[string]any{"soap_sections": sections}
	var out UpdateRecordResult
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/soap_record/%d", recordID), session, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadAudio streams the raw media bytes for a stored recording. The
// caller owns the returned body and must close it.
func (c *Client) DownloadAudio(ctx context.Context, session, storagePath string) (io.ReadCloser, string, error) {
	u := c.baseURL + "/download_audio?storage_path=" + url.QueryEscape(storagePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	setNoStore(req)
	setSession(req, session)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, "", apiErrorFrom(resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// -- plumbing --

func (c *Client) do(ctx context.Context, method, path, session string, body, out any) error {
	req, err := c.newJSONRequest(ctx, method, path, session, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// doCaptureCookies performs a JSON call and additionally returns the
// engine's Set-Cookie pairs serialized for relay on later requests.
func (c *Client) doCaptureCookies(ctx context.Context, method, path, session string, body, out any) (string, error) {
	req, err := c.newJSONRequest(ctx, method, path, session, body)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if err := decodeResponse(resp, out); err != nil {
		return "", err
	}

	var pairs []string
	for _, ck := range resp.Cookies() {
		pairs = append(pairs, ck.Name+"="+ck.Value)
	}
	return strings.Join(pairs, "; "), nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path, session string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	setNoStore(req)
	setSession(req, session)
	return req, nil
}

func setNoStore(req *http.Request) {
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Expires", "0")
}

func setSession(req *http.Request, session string) {
	if session != "" {
		req.Header.Set("Cookie", session)
	}
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		return apiErrorFrom(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiErrorFrom(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Detail = body.Detail
		if apiErr.Detail == "" {
			apiErr.Detail = body.Message
		}
	}
	return apiErr
}

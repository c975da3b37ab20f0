// Package chat answers patient questions about their latest SOAP summary.
// The console resolves the summary itself, so the assistant never sees a
// question without its context.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/medscribe/console/internal/platform/engine"
	"github.com/medscribe/console/internal/soap"
	"github.com/medscribe/console/internal/workflow"
)

// NoSummaryAnswer is returned without consulting the assistant when no
// summary exists for the patient yet.
const NoSummaryAnswer = "No SOAP summary available. Please consult your doctor for more information."

// EngineAPI is the slice of the engine client the chat service uses.
type EngineAPI interface {
	UserChat(ctx context.Context, session string, req engine.ChatRequest) (*engine.ChatResult, error)
}

// SummarySource resolves the SOAP summary a question should be answered
// against: the patient's latest record, falling back to the cached draft.
type SummarySource interface {
	Latest(ctx context.Context, session string, patientID int64) (soap.Sections, bool, error)
	CachedDraft(ctx context.Context, userID string) (soap.Sections, bool, error)
}

type Service struct {
	eng    EngineAPI
	source SummarySource
	logger zerolog.Logger
}

func NewService(eng EngineAPI, source SummarySource, logger zerolog.Logger) *Service {
	return &Service{eng: eng, source: source, logger: logger}
}

// Answer resolves the summary and forwards the question. An entirely empty
// summary short-circuits to the canned answer: the assistant is not called.
func (s *Service) Answer(ctx context.Context, userID, session string, patientID int64, question string) (*engine.ChatResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is required", workflow.ErrValidation)
	}

	summary, err := s.resolveSummary(ctx, userID, session, patientID)
	if err != nil {
		return nil, err
	}
	if summary.IsEmpty() {
		return &engine.ChatResult{Status: "success", Answer: NoSummaryAnswer}, nil
	}

	return s.eng.UserChat(ctx, session, engine.ChatRequest{
		Question:    question,
		SoapSummary: summary,
	})
}

func (s *Service) resolveSummary(ctx context.Context, userID, session string, patientID int64) (soap.Sections, error) {
	if patientID > 0 {
		summary, ok, err := s.source.Latest(ctx, session, patientID)
		if err != nil {
			return soap.Sections{}, err
		}
		if ok && !summary.IsEmpty() {
			return summary, nil
		}
	}

	cached, ok, err := s.source.CachedDraft(ctx, userID)
	if err != nil {
		// The cache is best-effort; a read failure means no summary, not a
		// failed question.
		s.logger.Warn().Err(err).Str("user", userID).Msg("failed to read draft cache")
		return soap.Sections{}, nil
	}
	if !ok {
		return soap.Sections{}, nil
	}
	return cached, nil
}

package workflow

import (
	"context"

	"github.com/medscribe/console/internal/soap"
)

// DraftCacheRepository persists the most recent draft per clinician: a
// single durable key, overwritten on every save and on every new processed
// result, read back by the chat assistant when a patient has no records.
type DraftCacheRepository interface {
	Get(ctx context.Context, userID string) (soap.Sections, bool, error)
	Put(ctx context.Context, userID string, sections soap.Sections) error
}

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medscribe/console/internal/soap"
)

type draftCacheRepoPG struct{ pool *pgxpool.Pool }

func NewDraftCacheRepoPG(pool *pgxpool.Pool) DraftCacheRepository {
	return &draftCacheRepoPG{pool: pool}
}

func (r *draftCacheRepoPG) Get(ctx context.Context, userID string) (soap.Sections, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT sections FROM soap_draft_cache WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return soap.Sections{}, false, nil
	}
	if err != nil {
		return soap.Sections{}, false, fmt.Errorf("read draft cache: %w", err)
	}

	var sections soap.Sections
	if err := json.Unmarshal(raw, &sections); err != nil {
		// A corrupt cache row is treated as absent rather than fatal.
		return soap.Sections{}, false, nil
	}
	return sections, true, nil
}

func (r *draftCacheRepoPG) Put(ctx context.Context, userID string, sections soap.Sections) error {
	data, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO soap_draft_cache (user_id, sections, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET sections = $2, updated_at = NOW()`,
		userID, data)
	if err != nil {
		return fmt.Errorf("write draft cache: %w", err)
	}
	return nil
}

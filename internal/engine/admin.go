package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"strings"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine/auth"
	"taskbridge/internal/repo"
)

// ListEvents reads the event log. With after > 0 it returns events after that id in
// ascending order; otherwise the newest events matching f come first.
func (e Engine) ListEvents(ctx context.Context, actor domain.Actor, f repo.EventFilters, after int64) ([]domain.Event, error) {
	if err := auth.Require(actor, auth.PermReadEvents); err != nil {
		return nil, forbidden(err)
	}
	if after > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = 100
		}
		return e.Repo.EventsAfter(ctx, limit, after)
	}
	return e.Repo.LatestEvents(ctx, f)
}

// CreateAPIKey mints a key for actorID. The plaintext key is only returned here; the
// store keeps its hash.
func (e Engine) CreateAPIKey(ctx context.Context, actor domain.Actor, actorID string, role domain.Role, name string) (string, domain.APIKey, error) {
	if err := auth.Require(actor, auth.PermManageCollaborators); err != nil {
		return "", domain.APIKey{}, forbidden(err)
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", domain.APIKey{}, invalid("actor id required")
	}
	if _, err := domain.ParseRole(string(role)); err != nil {
		return "", domain.APIKey{}, invalid("%v", err)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := "tb_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        newID(),
		ActorID:   actorID,
		Role:      role,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: repo.FormatTS(e.now()),
	}
	if err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.emit(ctx, tx, "apikey.created", "", "api_key", key.ID, actor, map[string]any{
			"actor_id": key.ActorID, "role": key.Role, "name": key.Name,
		})
	}); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

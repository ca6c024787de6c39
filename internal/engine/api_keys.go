package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"taskmaster/internal/domain"
	"taskmaster/internal/repo"
)

// CreateAPIKey issues a key for programmatic access. The plaintext is
// returned exactly once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (string, domain.APIKey, error) {
	if ok, err := e.Repo.UserExists(ctx, userID); err != nil {
		return "", domain.APIKey{}, err
	} else if !ok {
		return "", domain.APIKey{}, fmt.Errorf("user %s: %w", userID, repo.ErrNotFound)
	}
	buf := make([]byte, 32)
	if _, err := io.ReadFull(e.Rand, buf); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("generate api key: %w", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(buf)
	rec := domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, rec); err != nil {
		return "", domain.APIKey{}, err
	}
	return plaintext, rec, nil
}

// DeleteAPIKey revokes a key. Only its owner may do so.
func (e Engine) DeleteAPIKey(ctx context.Context, id, userID string) error {
	rec, err := e.Repo.GetAPIKey(ctx, id)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return ForbiddenError{Message: "api key does not belong to you"}
	}
	return e.Repo.DeleteAPIKey(ctx, id)
}

package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/errs"
	"gatehouse.dev/internal/repository"
)

func (s *Store) CreateAPIKey(ctx context.Context, k auth.NewAPIKey) (*auth.APIKey, error) {
	return s.apiKeys.Create(ctx, repository.Values{
		"user_id":    k.UserID,
		"name":       k.Name,
		"key":        k.Key,
		"is_active":  true,
		"expires_at": k.ExpiresAt,
	})
}

func (s *Store) APIKeyByID(ctx context.Context, principalID, keyID string) (*auth.APIKey, error) {
	return s.apiKeys.FindOne(ctx, repository.Criteria{"id": keyID, "user_id": principalID}, repository.OnlyActive())
}

// UsableAPIKey applies every usability rule in SQL: active, not deleted and
// either no expiry or an expiry after now.
func (s *Store) UsableAPIKey(ctx context.Context, stored string, now time.Time) (*auth.APIKey, error) {
	notExpired := squirrel.Or{
		squirrel.Eq{"expires_at": nil},
		squirrel.Gt{"expires_at": now},
	}
	return s.apiKeys.FindOneWhere(ctx, notExpired,
		repository.Criteria{"key": stored, "is_active": true},
		repository.OnlyActive(),
	)
}

func (s *Store) ListAPIKeys(ctx context.Context, principalID string) ([]auth.APIKey, error) {
	return s.apiKeys.FindAll(ctx, repository.Criteria{"user_id": principalID}, repository.OnlyActive())
}

func (s *Store) DeactivateAPIKey(ctx context.Context, principalID, keyID string) error {
	key, err := s.APIKeyByID(ctx, principalID, keyID)
	if err != nil {
		return err
	}
	if key == nil {
		return fmt.Errorf("%w: api key %s", errs.ErrNotFound, keyID)
	}
	updated, err := s.apiKeys.UpdateByID(ctx, key.ID, repository.Values{"is_active": false})
	if err != nil {
		return err
	}
	if updated == nil {
		return fmt.Errorf("%w: api key %s", errs.ErrNotFound, keyID)
	}
	return nil
}

func (s *Store) TouchAPIKey(ctx context.Context, keyID string) error {
	query, args, err := repository.Builder.Update("api_keys").
		Set("last_used_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": keyID}).
		ToSql()
	if err != nil {
		return err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if _, err := s.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return repository.Translate("api_keys.touch", err)
	}
	return nil
}

package pg

import (
	"context"

	"github.com/Masterminds/squirrel"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/repository"
)

func (s *Store) CreatePrincipal(ctx context.Context, p auth.NewPrincipal) (*auth.Principal, error) {
	return s.users.Create(ctx, repository.Values{
		"email":     p.Email,
		"password":  p.PasswordHash,
		"name":      p.Name,
		"phone":     p.Phone,
		"is_active": true,
	})
}

// PrincipalByEmail ignores soft-deleted accounts so a deleted email can be
// looked up without matching a tombstone.
func (s *Store) PrincipalByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	return s.users.FindOne(ctx, repository.Criteria{"email": email}, repository.OnlyActive())
}

// PrincipalByID returns deleted rows too; callers decide with Usable.
func (s *Store) PrincipalByID(ctx context.Context, id string) (*auth.Principal, error) {
	return s.users.FindByID(ctx, id)
}

func (s *Store) TouchLastLogin(ctx context.Context, id string) error {
	query, args, err := repository.Builder.Update("users").
		Set("last_login_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if _, err := s.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return repository.Translate("users.touch_last_login", err)
	}
	return nil
}

func (s *Store) ListPrincipals(ctx context.Context, req repository.PageRequest) (repository.Page[auth.Principal], error) {
	return s.users.Paginate(ctx, req)
}

func (s *Store) UpdatePrincipal(ctx context.Context, id string, values repository.Values) (*auth.Principal, error) {
	return s.users.UpdateByID(ctx, id, values)
}

func (s *Store) SoftDeletePrincipal(ctx context.Context, id string) error {
	return s.users.SoftDeleteByID(ctx, id)
}

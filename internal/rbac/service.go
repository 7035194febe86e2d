package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/quotedesk/internal/platform/db"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Store is the persistence needed by Service.
type Store interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpsertPermission(ctx context.Context, name, description string) (Permission, error)
	UpsertRole(ctx context.Context, name, description string) (Role, error)
	AttachPermission(ctx context.Context, roleID, permissionID int64) error
	AssignRole(ctx context.Context, userID, roleID int64) error
}

// Service orchestrates RBAC operations.
type Service struct {
	store Store
	tx    db.Transactor
}

// NewService constructs a Service.
func NewService(store Store, tx db.Transactor) *Service {
	return &Service{store: store, tx: tx}
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// EffectivePermissions returns deduplicated permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return s.store.EffectivePermissions(ctx, userID)
}

// SeedPermissions upserts the default permission catalogue.
func (s *Service) SeedPermissions(ctx context.Context) error {
	return s.tx.Transact(ctx, func(ctx context.Context) error {
		for _, p := range DefaultPermissions {
			if _, err := s.store.UpsertPermission(ctx, p.Name, p.Description); err != nil {
				return err
			}
		}
		return nil
	})
}

// Grant ensures role exists with the given permissions and assigns it to userID.
func (s *Service) Grant(ctx context.Context, userID int64, role string, perms ...string) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return errors.New("rbac: role name required")
	}
	return s.tx.Transact(ctx, func(ctx context.Context) error {
		r, err := s.store.UpsertRole(ctx, role, "")
		if err != nil {
			return err
		}
		for _, name := range normalizePermissions(perms) {
			p, err := s.store.UpsertPermission(ctx, name, "")
			if err != nil {
				return err
			}
			if err := s.store.AttachPermission(ctx, r.ID, p.ID); err != nil {
				return err
			}
		}
		return s.store.AssignRole(ctx, userID, r.ID)
	})
}

// Repository is the pgx-backed Store.
type Repository struct {
	db *db.TxManager
}

// NewRepository constructs Repository.
func NewRepository(tx *db.TxManager) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `SELECT DISTINCT p.name
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY p.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: effective permissions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Permission, error) {
		var p Permission
		err := row.Scan(&p.ID, &p.Name, &p.Description)
		return p, err
	})
}

func (r *Repository) UpsertPermission(ctx context.Context, name, description string) (Permission, error) {
	var p Permission
	err := r.db.Querier(ctx).QueryRow(ctx, `INSERT INTO permissions (name, description)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = COALESCE(NULLIF(EXCLUDED.description, ''), permissions.description)
		RETURNING id, name, description`, strings.TrimSpace(name), strings.TrimSpace(description)).
		Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: upsert permission: %w", err)
	}
	return p, nil
}

func (r *Repository) UpsertRole(ctx context.Context, name, description string) (Role, error) {
	var role Role
	err := r.db.Querier(ctx).QueryRow(ctx, `INSERT INTO roles (name, description)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, description, created_at`, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: upsert role: %w", err)
	}
	return role, nil
}

func (r *Repository) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("rbac: attach permission: %w", err)
	}
	return nil
}

func (r *Repository) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `INSERT INTO user_roles (user_id, role_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("rbac: assign role: %w", err)
	}
	return nil
}

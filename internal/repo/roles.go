package repo

import (
	"context"
	"database/sql"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, tenantID, actorID, role string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(tenant_id, actor_id, role) VALUES (?,?,?)`, tenantID, actorID, role)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, tenantID, actorID, role string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM actor_roles WHERE tenant_id=? AND actor_id=? AND role=?`, tenantID, actorID, role)
	return err
}

func (r Repo) ActorRoles(ctx context.Context, tenantID, actorID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role FROM actor_roles WHERE tenant_id=? AND actor_id=?`, tenantID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r Repo) ActorHasRole(ctx context.Context, tenantID, actorID string, roles ...string) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}
	granted, err := r.ActorRoles(ctx, tenantID, actorID)
	if err != nil {
		return false, err
	}
	for _, have := range granted {
		for _, want := range roles {
			if have == want {
				return true, nil
			}
		}
	}
	return false, nil
}

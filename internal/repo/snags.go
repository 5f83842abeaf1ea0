package repo

import (
	"context"
	"database/sql"
	"strings"

	"siteline/internal/domain"
)

const snagColumns = `id,tenant_id,development_id,unit_id,description,COALESCE(location,'') AS location,status,
COALESCE(raised_by,'') AS raised_by,created_at,updated_at`

func scanSnag(scan func(...any) error) (domain.SnagItem, error) {
	var s domain.SnagItem
	err := scan(&s.ID, &s.TenantID, &s.DevelopmentID, &s.UnitID, &s.Description, &s.Location,
		&s.Status, &s.RaisedBy, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r Repo) InsertSnagTx(ctx context.Context, tx *sql.Tx, s domain.SnagItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO snag_items(id,tenant_id,development_id,unit_id,description,location,status,raised_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TenantID, s.DevelopmentID, s.UnitID, s.Description, nullable(s.Location), s.Status, nullable(s.RaisedBy), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSnag(ctx context.Context, tenantID, id string) (domain.SnagItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+snagColumns+` FROM snag_items WHERE tenant_id=? AND id=?`, tenantID, id)
	s, err := scanSnag(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) UpdateSnagStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE snag_items SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SnagFilters narrows ListSnags; zero values mean no filter.
type SnagFilters struct {
	DevelopmentID string
	UnitID        string
	Status        string
}

func (r Repo) ListSnags(ctx context.Context, tenantID string, f SnagFilters) ([]domain.SnagItem, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{tenantID}
	if f.DevelopmentID != "" {
		clauses = append(clauses, "development_id=?")
		args = append(args, f.DevelopmentID)
	}
	if f.UnitID != "" {
		clauses = append(clauses, "unit_id=?")
		args = append(args, f.UnitID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + snagColumns + ` FROM snag_items WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SnagItem
	for rows.Next() {
		s, err := scanSnag(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

package repo

import (
	"context"
	"database/sql"

	"siteline/internal/domain"
)

const noteColumns = `id,tenant_id,pipeline_id,unit_id,note_type,content,is_resolved,
COALESCE(resolved_at,'') AS resolved_at,COALESCE(resolved_by,'') AS resolved_by,created_by,created_at`

func scanNote(scan func(...any) error) (domain.PipelineNote, error) {
	var n domain.PipelineNote
	var resolved int
	err := scan(&n.ID, &n.TenantID, &n.PipelineID, &n.UnitID, &n.NoteType, &n.Content,
		&resolved, &n.ResolvedAt, &n.ResolvedBy, &n.CreatedBy, &n.CreatedAt)
	n.IsResolved = resolved != 0
	return n, err
}

func (r Repo) InsertNoteTx(ctx context.Context, tx *sql.Tx, n domain.PipelineNote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pipeline_notes(id,tenant_id,pipeline_id,unit_id,note_type,content,is_resolved,created_by,created_at)
VALUES (?,?,?,?,?,?,0,?,?)`,
		n.ID, n.TenantID, n.PipelineID, n.UnitID, n.NoteType, n.Content, n.CreatedBy, n.CreatedAt)
	return err
}

func (r Repo) GetNote(ctx context.Context, tenantID, id string) (domain.PipelineNote, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM pipeline_notes WHERE tenant_id=? AND id=?`, tenantID, id)
	n, err := scanNote(row.Scan)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	return n, err
}

func (r Repo) ListNotesByUnit(ctx context.Context, tenantID, unitID string) ([]domain.PipelineNote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+noteColumns+` FROM pipeline_notes WHERE tenant_id=? AND unit_id=? ORDER BY created_at DESC, id DESC`, tenantID, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PipelineNote
	for rows.Next() {
		n, err := scanNote(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// SetNoteResolvedTx resolves or reopens a note. Resolver and timestamp are
// cleared on reopen.
func (r Repo) SetNoteResolvedTx(ctx context.Context, tx *sql.Tx, id string, resolved bool, resolvedBy, resolvedAt string) error {
	var (
		flag int
		by   any
		at   any
	)
	if resolved {
		flag = 1
		by = resolvedBy
		at = resolvedAt
	}
	res, err := tx.ExecContext(ctx, `UPDATE pipeline_notes SET is_resolved=?, resolved_by=?, resolved_at=? WHERE id=?`,
		flag, by, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

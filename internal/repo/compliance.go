package repo

import (
	"context"
	"database/sql"

	"siteline/internal/domain"
)

const complianceColumns = `id,tenant_id,development_id,unit_id,kind,status,
COALESCE(expiry_date,'') AS expiry_date,COALESCE(uploaded_by,'') AS uploaded_by,created_at,updated_at`

func scanCompliance(scan func(...any) error) (domain.ComplianceDocument, error) {
	var d domain.ComplianceDocument
	err := scan(&d.ID, &d.TenantID, &d.DevelopmentID, &d.UnitID, &d.Kind, &d.Status,
		&d.ExpiryDate, &d.UploadedBy, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// UpsertComplianceTx inserts or replaces the document of this kind for the
// unit; a unit holds at most one record per kind.
func (r Repo) UpsertComplianceTx(ctx context.Context, tx *sql.Tx, d domain.ComplianceDocument) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO compliance_documents(id,tenant_id,development_id,unit_id,kind,status,expiry_date,uploaded_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(unit_id,kind) DO UPDATE SET status=excluded.status, expiry_date=excluded.expiry_date, uploaded_by=excluded.uploaded_by, updated_at=excluded.updated_at`,
		d.ID, d.TenantID, d.DevelopmentID, d.UnitID, d.Kind, d.Status, nullable(d.ExpiryDate), nullable(d.UploadedBy), d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetCompliance(ctx context.Context, tenantID, unitID, kind string) (domain.ComplianceDocument, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+complianceColumns+` FROM compliance_documents WHERE tenant_id=? AND unit_id=? AND kind=?`, tenantID, unitID, kind)
	d, err := scanCompliance(row.Scan)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) ListComplianceByDevelopment(ctx context.Context, tenantID, developmentID string) ([]domain.ComplianceDocument, error) {
	return r.listCompliance(ctx, `tenant_id=? AND development_id=?`, tenantID, developmentID)
}

func (r Repo) ListComplianceByTenant(ctx context.Context, tenantID string) ([]domain.ComplianceDocument, error) {
	return r.listCompliance(ctx, `tenant_id=?`, tenantID)
}

func (r Repo) listCompliance(ctx context.Context, where string, args ...any) ([]domain.ComplianceDocument, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+complianceColumns+` FROM compliance_documents WHERE `+where+` ORDER BY unit_id ASC, kind ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ComplianceDocument
	for rows.Next() {
		d, err := scanCompliance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

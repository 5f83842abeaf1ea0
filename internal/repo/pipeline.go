package repo

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"siteline/internal/domain"
)

// Milestone columns in lifecycle order; the engine validates field names
// against this set before any pipeline write.
var MilestoneColumns = []string{
	"release_date",
	"sale_agreed_date",
	"deposit_paid_date",
	"contracts_issued_date",
	"signed_contracts_date",
	"counter_signed_date",
	"kitchen_date",
	"snag_date",
	"desnag_date",
	"drawdown_date",
	"handover_date",
}

var contactColumns = map[string]bool{
	"purchaser_name":  true,
	"purchaser_email": true,
	"purchaser_phone": true,
	"solicitor_firm":  true,
}

var kitchenColumns = map[string]bool{
	"has_kitchen":     true,
	"kitchen_counter": true,
	"kitchen_cabinet": true,
	"kitchen_handle":  true,
	"has_wardrobe":    true,
	"kitchen_notes":   true,
	"kitchen_date":    true,
}

var writableColumns = func() map[string]bool {
	m := make(map[string]bool)
	for _, c := range MilestoneColumns {
		m[c] = true
	}
	for c := range contactColumns {
		m[c] = true
	}
	for c := range kitchenColumns {
		m[c] = true
	}
	return m
}()

const pipelineColumns = `id,tenant_id,development_id,unit_id,
release_date,sale_agreed_date,deposit_paid_date,contracts_issued_date,signed_contracts_date,counter_signed_date,
kitchen_date,snag_date,desnag_date,drawdown_date,handover_date,
COALESCE(purchaser_name,'') AS purchaser_name,COALESCE(purchaser_email,'') AS purchaser_email,
COALESCE(purchaser_phone,'') AS purchaser_phone,COALESCE(solicitor_firm,'') AS solicitor_firm,
has_kitchen,COALESCE(kitchen_counter,'') AS kitchen_counter,COALESCE(kitchen_cabinet,'') AS kitchen_cabinet,
COALESCE(kitchen_handle,'') AS kitchen_handle,has_wardrobe,COALESCE(kitchen_notes,'') AS kitchen_notes,
created_at,updated_at`

func scanPipeline(scan func(...any) error) (domain.PipelineRecord, error) {
	var p domain.PipelineRecord
	milestones := make([]sql.NullString, len(MilestoneColumns))
	var hasKitchen, hasWardrobe sql.NullBool
	err := scan(
		&p.ID, &p.TenantID, &p.DevelopmentID, &p.UnitID,
		&milestones[0], &milestones[1], &milestones[2], &milestones[3], &milestones[4], &milestones[5],
		&milestones[6], &milestones[7], &milestones[8], &milestones[9], &milestones[10],
		&p.PurchaserName, &p.PurchaserEmail, &p.PurchaserPhone, &p.SolicitorFirm,
		&hasKitchen, &p.KitchenCounter, &p.KitchenCabinet, &p.KitchenHandle, &hasWardrobe, &p.KitchenNotes,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	targets := []**string{
		&p.ReleaseDate, &p.SaleAgreedDate, &p.DepositPaidDate, &p.ContractsIssuedDate, &p.SignedContractsDate,
		&p.CounterSignedDate, &p.KitchenDate, &p.SnagDate, &p.DesnagDate, &p.DrawdownDate, &p.HandoverDate,
	}
	for i, ns := range milestones {
		if ns.Valid && ns.String != "" {
			v := ns.String
			*targets[i] = &v
		}
	}
	if hasKitchen.Valid {
		v := hasKitchen.Bool
		p.HasKitchen = &v
	}
	if hasWardrobe.Valid {
		v := hasWardrobe.Bool
		p.HasWardrobe = &v
	}
	return p, nil
}

func (r Repo) GetPipelineByUnit(ctx context.Context, tenantID, unitID string) (domain.PipelineRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM unit_pipeline WHERE tenant_id=? AND unit_id=?`, tenantID, unitID)
	p, err := scanPipeline(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) getPipelineByUnitTx(ctx context.Context, tx *sql.Tx, tenantID, unitID string) (domain.PipelineRecord, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM unit_pipeline WHERE tenant_id=? AND unit_id=?`, tenantID, unitID)
	p, err := scanPipeline(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListPipelinesByDevelopment(ctx context.Context, tenantID, developmentID string) ([]domain.PipelineRecord, error) {
	return r.listPipelines(ctx, `tenant_id=? AND development_id=?`, tenantID, developmentID)
}

func (r Repo) ListPipelinesByTenant(ctx context.Context, tenantID string) ([]domain.PipelineRecord, error) {
	return r.listPipelines(ctx, `tenant_id=?`, tenantID)
}

func (r Repo) listPipelines(ctx context.Context, where string, args ...any) ([]domain.PipelineRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+pipelineColumns+` FROM unit_pipeline WHERE `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PipelineRecord
	for rows.Next() {
		p, err := scanPipeline(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// EnsurePipelineTx returns the pipeline record for a unit, creating an empty
// one with the given id if none exists yet. Records come into being on the
// first pipeline write, not when the unit is created.
func (r Repo) EnsurePipelineTx(ctx context.Context, tx *sql.Tx, id string, unit domain.Unit, now string) (domain.PipelineRecord, error) {
	existing, err := r.getPipelineByUnitTx(ctx, tx, unit.TenantID, unit.ID)
	if err == nil {
		return existing, nil
	}
	if err != ErrNotFound {
		return domain.PipelineRecord{}, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO unit_pipeline(id,tenant_id,development_id,unit_id,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		id, unit.TenantID, unit.DevelopmentID, unit.ID, now, now)
	if err != nil {
		return domain.PipelineRecord{}, err
	}
	return r.getPipelineByUnitTx(ctx, tx, unit.TenantID, unit.ID)
}

// UpdatePipelineColumnsTx applies a validated column→value set to one record.
// Column names outside the writable set are rejected.
func (r Repo) UpdatePipelineColumnsTx(ctx context.Context, tx *sql.Tx, id string, sets map[string]any, updatedAt string) error {
	if len(sets) == 0 {
		return nil
	}
	var (
		fields []string
		args   []any
	)
	for _, col := range sortedKeys(sets) {
		if !writableColumns[col] {
			return fmt.Errorf("column %s is not writable", col)
		}
		fields = append(fields, col+"=?")
		args = append(args, sets[col])
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := tx.ExecContext(ctx, `UPDATE unit_pipeline SET `+strings.Join(fields, ",")+` WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StampFieldAuditTx records who last set a milestone field and when.
func (r Repo) StampFieldAuditTx(ctx context.Context, tx *sql.Tx, pipelineID, field, actorID, ts string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pipeline_field_audit(pipeline_id,field,updated_by,updated_at) VALUES (?,?,?,?)
ON CONFLICT(pipeline_id,field) DO UPDATE SET updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		pipelineID, field, actorID, ts)
	return err
}

func (r Repo) GetFieldAudit(ctx context.Context, pipelineID string) (map[string]domain.FieldStamp, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT field,updated_by,updated_at FROM pipeline_field_audit WHERE pipeline_id=?`, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make(map[string]domain.FieldStamp)
	for rows.Next() {
		var field string
		var stamp domain.FieldStamp
		if err := rows.Scan(&field, &stamp.UpdatedBy, &stamp.UpdatedAt); err != nil {
			return nil, err
		}
		res[field] = stamp
	}
	return res, rows.Err()
}

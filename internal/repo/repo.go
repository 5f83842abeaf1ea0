package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"siteline/internal/config"
	"siteline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertTenant(ctx context.Context, tx *sql.Tx, t domain.Tenant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tenants(id,name,created_at) VALUES (?,?,?)`,
		t.ID, t.Name, t.CreatedAt)
	return err
}

func (r Repo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM tenants WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) SingleTenant(ctx context.Context) (domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM tenants`)
	if err != nil {
		return domain.Tenant{}, err
	}
	defer rows.Close()
	var tenants []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return domain.Tenant{}, err
		}
		tenants = append(tenants, t)
	}
	if len(tenants) == 0 {
		return domain.Tenant{}, ErrNotFound
	}
	if len(tenants) > 1 {
		return domain.Tenant{}, fmt.Errorf("multiple tenants exist; specify --tenant")
	}
	return tenants[0], nil
}

func (r Repo) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (r Repo) UpsertTenantConfig(ctx context.Context, tenantID string, cfg *config.Config) error {
	return upsertTenantConfig(ctx, r.DB, nil, tenantID, cfg)
}

func (r Repo) UpsertTenantConfigTx(ctx context.Context, tx *sql.Tx, tenantID string, cfg *config.Config) error {
	return upsertTenantConfig(ctx, nil, tx, tenantID, cfg)
}

func upsertTenantConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, tenantID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Tenant.ID = tenantID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO tenant_config(tenant_id,yaml,updated_at) VALUES (?,?,?)
ON CONFLICT(tenant_id) DO UPDATE SET yaml=excluded.yaml, updated_at=excluded.updated_at`, tenantID, string(payload), now)
	return err
}

func (r Repo) GetTenantConfig(ctx context.Context, tenantID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT yaml FROM tenant_config WHERE tenant_id=?`, tenantID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := yaml.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Tenant.ID == "" {
		cfg.Tenant.ID = tenantID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) InsertDevelopment(ctx context.Context, d domain.Development) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO developments(id,tenant_id,name,code,created_at) VALUES (?,?,?,?,?)`,
		d.ID, d.TenantID, d.Name, nullable(d.Code), d.CreatedAt)
	return err
}

func (r Repo) GetDevelopment(ctx context.Context, tenantID, id string) (domain.Development, error) {
	var d domain.Development
	err := r.DB.QueryRowContext(ctx, `SELECT id,tenant_id,name,COALESCE(code,'') AS code,created_at FROM developments WHERE tenant_id=? AND id=?`, tenantID, id).
		Scan(&d.ID, &d.TenantID, &d.Name, &d.Code, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) ListDevelopments(ctx context.Context, tenantID string) ([]domain.Development, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,name,COALESCE(code,'') AS code,created_at FROM developments WHERE tenant_id=? ORDER BY name ASC, id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Development
	for rows.Next() {
		var d domain.Development
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Name, &d.Code, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

const unitColumns = `id,tenant_id,development_id,unit_number,COALESCE(address,'') AS address,COALESCE(house_type,'') AS house_type,bedrooms,created_at`

func scanUnit(scan func(...any) error) (domain.Unit, error) {
	var u domain.Unit
	err := scan(&u.ID, &u.TenantID, &u.DevelopmentID, &u.UnitNumber, &u.Address, &u.HouseType, &u.Bedrooms, &u.CreatedAt)
	return u, err
}

func (r Repo) InsertUnit(ctx context.Context, u domain.Unit) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO units(id,tenant_id,development_id,unit_number,address,house_type,bedrooms,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.TenantID, u.DevelopmentID, u.UnitNumber, nullable(u.Address), nullable(u.HouseType), u.Bedrooms, u.CreatedAt)
	return err
}

func (r Repo) GetUnit(ctx context.Context, tenantID, id string) (domain.Unit, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE tenant_id=? AND id=?`, tenantID, id)
	u, err := scanUnit(row.Scan)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

// UnitFilters narrows ListUnits; zero values mean no filter.
type UnitFilters struct {
	DevelopmentID string
}

func (r Repo) ListUnits(ctx context.Context, tenantID string, f UnitFilters) ([]domain.Unit, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{tenantID}
	if f.DevelopmentID != "" {
		clauses = append(clauses, "development_id=?")
		args = append(args, f.DevelopmentID)
	}
	query := `SELECT ` + unitColumns + ` FROM units WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY unit_number ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Unit
	for rows.Next() {
		u, err := scanUnit(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

const eventColumns = `id,ts,type,COALESCE(tenant_id,'') AS tenant_id,entity_kind,COALESCE(entity_id,'') AS entity_id,actor_id,payload_json`

func scanEvent(scan func(...any) error) (domain.Event, error) {
	var e domain.Event
	err := scan(&e.ID, &e.TS, &e.Type, &e.TenantID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload)
	return e, err
}

func (r Repo) ListEvents(ctx context.Context, tenantID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE tenant_id=? ORDER BY id DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns up to limit events with id greater than cursor, oldest
// first. Used by the webhook dispatcher.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, tenantID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE tenant_id=? AND id>? ORDER BY id ASC LIMIT ?`, tenantID, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context, tenantID string) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events WHERE tenant_id=?`, tenantID).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableBool(v *bool) any {
	if v == nil {
		return nil
	}
	if *v {
		return 1
	}
	return 0
}

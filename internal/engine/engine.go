package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/events"
	"siteline/internal/pipeline"
	"siteline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InitTenant initializes a tenant with migrations already run. The acting
// user becomes the tenant's first super_admin.
func (e Engine) InitTenant(ctx context.Context, tenantID, name, actorID string) (domain.Tenant, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Tenant{}, err
	}
	defer tx.Rollback()

	if name == "" {
		name = tenantID
	}
	t := domain.Tenant{
		ID:        tenantID,
		Name:      name,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertTenant(ctx, tx, t); err != nil {
		return domain.Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	if err := e.Repo.UpsertTenantConfigTx(ctx, tx, t.ID, config.Default(t.ID)); err != nil {
		return domain.Tenant{}, fmt.Errorf("insert tenant config: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := e.Repo.EnsureActor(ctx, tx, actorID, t.CreatedAt); err != nil {
		return domain.Tenant{}, fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.AssignRole(ctx, tx, t.ID, actorID, "super_admin"); err != nil {
		return domain.Tenant{}, fmt.Errorf("assign role: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "tenant.init", t.ID, "tenant", t.ID, actorID, events.EventPayload{"name": t.Name}); err != nil {
		return domain.Tenant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Tenant{}, err
	}
	return t, nil
}

func (e Engine) CreateDevelopment(ctx context.Context, tenantID, name, code, actorID string) (domain.Development, error) {
	if name == "" {
		return domain.Development{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetTenant(ctx, tenantID); err != nil {
		return domain.Development{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Development{}, err
	}
	defer tx.Rollback()

	d := domain.Development{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		Code:      code,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO developments(id,tenant_id,name,code,created_at) VALUES (?,?,?,?,?)`,
		d.ID, d.TenantID, d.Name, nullable(d.Code), d.CreatedAt); err != nil {
		return domain.Development{}, fmt.Errorf("insert development: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "development.created", tenantID, "development", d.ID, actorID, events.EventPayload{"name": d.Name}); err != nil {
		return domain.Development{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Development{}, err
	}
	return d, nil
}

// UnitCreateOptions are parameters for creating a unit.
type UnitCreateOptions struct {
	TenantID      string
	DevelopmentID string
	UnitNumber    string
	Address       string
	HouseType     string
	Bedrooms      int
	ActorID       string
}

func (e Engine) CreateUnit(ctx context.Context, opts UnitCreateOptions) (domain.Unit, error) {
	if opts.UnitNumber == "" {
		return domain.Unit{}, errors.New("unit_number is required")
	}
	if _, err := e.Repo.GetDevelopment(ctx, opts.TenantID, opts.DevelopmentID); err != nil {
		return domain.Unit{}, err
	}
	if opts.Bedrooms <= 0 {
		opts.Bedrooms = 3
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Unit{}, err
	}
	defer tx.Rollback()

	u := domain.Unit{
		ID:            uuid.NewString(),
		TenantID:      opts.TenantID,
		DevelopmentID: opts.DevelopmentID,
		UnitNumber:    opts.UnitNumber,
		Address:       opts.Address,
		HouseType:     opts.HouseType,
		Bedrooms:      opts.Bedrooms,
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO units(id,tenant_id,development_id,unit_number,address,house_type,bedrooms,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.TenantID, u.DevelopmentID, u.UnitNumber, nullable(u.Address), nullable(u.HouseType), u.Bedrooms, u.CreatedAt); err != nil {
		return domain.Unit{}, fmt.Errorf("insert unit: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "unit.created", u.TenantID, "unit", u.ID, opts.ActorID, events.EventPayload{"unit_number": u.UnitNumber}); err != nil {
		return domain.Unit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Unit{}, err
	}
	return u, nil
}

var milestoneFields = func() map[string]bool {
	m := make(map[string]bool, len(repo.MilestoneColumns))
	for _, c := range repo.MilestoneColumns {
		m[c] = true
	}
	return m
}()

// MilestoneOptions set or clear one milestone timestamp on a unit's pipeline
// record.
type MilestoneOptions struct {
	TenantID string
	UnitID   string
	Field    string
	// Value is an RFC 3339 timestamp; empty means "now" unless Clear is set.
	Value   string
	Clear   bool
	ActorID string
}

func (e Engine) RecordMilestone(ctx context.Context, opts MilestoneOptions) (domain.PipelineRecord, error) {
	if !milestoneFields[opts.Field] {
		return domain.PipelineRecord{}, fmt.Errorf("unknown milestone field %s", opts.Field)
	}
	unit, err := e.Repo.GetUnit(ctx, opts.TenantID, opts.UnitID)
	if err != nil {
		return domain.PipelineRecord{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	var value any
	evtType := "pipeline.milestone_set"
	switch {
	case opts.Clear:
		value = nil
		evtType = "pipeline.milestone_cleared"
	case opts.Value == "":
		value = now
	default:
		if _, err := time.Parse(time.RFC3339, opts.Value); err != nil {
			return domain.PipelineRecord{}, fmt.Errorf("invalid timestamp for %s: %w", opts.Field, err)
		}
		value = opts.Value
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PipelineRecord{}, err
	}
	defer tx.Rollback()

	rec, err := e.Repo.EnsurePipelineTx(ctx, tx, uuid.NewString(), unit, now)
	if err != nil {
		return domain.PipelineRecord{}, err
	}
	if err := e.Repo.UpdatePipelineColumnsTx(ctx, tx, rec.ID, map[string]any{opts.Field: value}, now); err != nil {
		return domain.PipelineRecord{}, err
	}
	if err := e.Repo.StampFieldAuditTx(ctx, tx, rec.ID, opts.Field, opts.ActorID, now); err != nil {
		return domain.PipelineRecord{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, opts.TenantID, "pipeline", rec.ID, opts.ActorID, events.EventPayload{
		"unit_id": opts.UnitID,
		"field":   opts.Field,
		"value":   opts.Value,
	}); err != nil {
		return domain.PipelineRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PipelineRecord{}, err
	}
	return e.Repo.GetPipelineByUnit(ctx, opts.TenantID, opts.UnitID)
}

// ContactOptions update purchaser and solicitor details; nil fields are left
// untouched.
type ContactOptions struct {
	TenantID       string
	UnitID         string
	PurchaserName  *string
	PurchaserEmail *string
	PurchaserPhone *string
	SolicitorFirm  *string
	ActorID        string
}

func (e Engine) UpdateContact(ctx context.Context, opts ContactOptions) (domain.PipelineRecord, error) {
	unit, err := e.Repo.GetUnit(ctx, opts.TenantID, opts.UnitID)
	if err != nil {
		return domain.PipelineRecord{}, err
	}
	sets := map[string]any{}
	if opts.PurchaserName != nil {
		sets["purchaser_name"] = nullable(*opts.PurchaserName)
	}
	if opts.PurchaserEmail != nil {
		sets["purchaser_email"] = nullable(*opts.PurchaserEmail)
	}
	if opts.PurchaserPhone != nil {
		sets["purchaser_phone"] = nullable(*opts.PurchaserPhone)
	}
	if opts.SolicitorFirm != nil {
		sets["solicitor_firm"] = nullable(*opts.SolicitorFirm)
	}
	if len(sets) == 0 {
		return domain.PipelineRecord{}, errors.New("no contact fields provided")
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PipelineRecord{}, err
	}
	defer tx.Rollback()

	rec, err := e.Repo.EnsurePipelineTx(ctx, tx, uuid.NewString(), unit, now)
	if err != nil {
		return domain.PipelineRecord{}, err
	}
	if err := e.Repo.UpdatePipelineColumnsTx(ctx, tx, rec.ID, sets, now); err != nil {
		return domain.PipelineRecord{}, err
	}
	if err := e.Events.Append(ctx, tx, "pipeline.contact_updated", opts.TenantID, "pipeline", rec.ID, opts.ActorID, events.EventPayload{
		"unit_id": opts.UnitID,
	}); err != nil {
		return domain.PipelineRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PipelineRecord{}, err
	}
	return e.Repo.GetPipelineByUnit(ctx, opts.TenantID, opts.UnitID)
}

// kitchenFieldColumns maps API-facing kitchen selection fields to their
// storage columns.
var kitchenFieldColumns = map[string]string{
	"has_kitchen":  "has_kitchen",
	"counter":      "kitchen_counter",
	"cabinet":      "kitchen_cabinet",
	"handle":       "kitchen_handle",
	"has_wardrobe": "has_wardrobe",
	"notes":        "kitchen_notes",
}

// KitchenOptions update one kitchen selection field.
type KitchenOptions struct {
	TenantID string
	UnitID   string
	Field    string
	Value    string
	// BoolValue carries has_kitchen / has_wardrobe.
	BoolValue *bool
	ActorID   string
}

func (e Engine) UpdateKitchenSelection(ctx context.Context, opts KitchenOptions) (domain.PipelineRecord, error) {
	col, ok := kitchenFieldColumns[opts.Field]
	if !ok {
		return domain.PipelineRecord{}, fmt.Errorf("unknown kitchen field %s", opts.Field)
	}
	unit, err := e.Repo.GetUnit(ctx, opts.TenantID, opts.UnitID)
	if err != nil {
		return domain.PipelineRecord{}, err
	}
	if err := e.validateKitchenValue(opts); err != nil {
		return domain.PipelineRecord{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	sets := map[string]any{}
	switch opts.Field {
	case "has_kitchen", "has_wardrobe":
		if opts.BoolValue == nil {
			sets[col] = nil
		} else if *opts.BoolValue {
			sets[col] = 1
		} else {
			sets[col] = 0
		}
		// Choosing the developer kitchen completes the selection milestone.
		if opts.Field == "has_kitchen" && opts.BoolValue != nil && *opts.BoolValue {
			sets["kitchen_date"] = now
		}
	default:
		sets[col] = nullable(opts.Value)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PipelineRecord{}, err
	}
	defer tx.Rollback()

	rec, err := e.Repo.EnsurePipelineTx(ctx, tx, uuid.NewString(), unit, now)
	if err != nil {
		return domain.PipelineRecord{}, err
	}
	if err := e.Repo.UpdatePipelineColumnsTx(ctx, tx, rec.ID, sets, now); err != nil {
		return domain.PipelineRecord{}, err
	}
	if err := e.Repo.StampFieldAuditTx(ctx, tx, rec.ID, col, opts.ActorID, now); err != nil {
		return domain.PipelineRecord{}, err
	}
	if err := e.Events.Append(ctx, tx, "pipeline.kitchen_updated", opts.TenantID, "pipeline", rec.ID, opts.ActorID, events.EventPayload{
		"unit_id": opts.UnitID,
		"field":   opts.Field,
	}); err != nil {
		return domain.PipelineRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PipelineRecord{}, err
	}
	return e.Repo.GetPipelineByUnit(ctx, opts.TenantID, opts.UnitID)
}

func (e Engine) validateKitchenValue(opts KitchenOptions) error {
	if e.Config == nil || opts.Value == "" {
		return nil
	}
	switch opts.Field {
	case "counter":
		if _, ok := e.Config.Kitchen.CounterTypes[opts.Value]; !ok {
			return fmt.Errorf("unknown counter type %s", opts.Value)
		}
	case "cabinet":
		if !containsString(e.Config.Kitchen.CabinetColors, opts.Value) {
			return fmt.Errorf("unknown cabinet color %s", opts.Value)
		}
	case "handle":
		if !containsString(e.Config.Kitchen.HandleStyles, opts.Value) {
			return fmt.Errorf("unknown handle style %s", opts.Value)
		}
	}
	return nil
}

// AnnotatedPipeline is a pipeline record with its derived stage and dwell.
type AnnotatedPipeline struct {
	Record    domain.PipelineRecord
	Stage     string
	EnteredAt *string
	DwellDays int
	Health    string
}

func (e Engine) annotate(rec domain.PipelineRecord) AnnotatedPipeline {
	info := pipeline.DeriveStage(rec)
	dwell := pipeline.ClassifyDwell(info.EnteredAt, e.now())
	out := AnnotatedPipeline{
		Record:    rec,
		Stage:     info.Stage,
		DwellDays: dwell.Days,
		Health:    dwell.Health,
	}
	if info.EnteredAt != nil {
		s := info.EnteredAt.UTC().Format(time.RFC3339)
		out.EnteredAt = &s
	}
	return out
}

// GetPipeline returns the unit's record annotated with stage and dwell.
// Units with no record yet are reported at the initial stage.
func (e Engine) GetPipeline(ctx context.Context, tenantID, unitID string) (AnnotatedPipeline, error) {
	unit, err := e.Repo.GetUnit(ctx, tenantID, unitID)
	if err != nil {
		return AnnotatedPipeline{}, err
	}
	rec, err := e.Repo.GetPipelineByUnit(ctx, tenantID, unit.ID)
	if err == repo.ErrNotFound {
		rec = domain.PipelineRecord{TenantID: tenantID, DevelopmentID: unit.DevelopmentID, UnitID: unit.ID}
	} else if err != nil {
		return AnnotatedPipeline{}, err
	}
	return e.annotate(rec), nil
}

// BoardRow is one unit on the pipeline board.
type BoardRow struct {
	Unit      domain.Unit
	Stage     string
	EnteredAt *string
	DwellDays int
	Health    string
	Record    *domain.PipelineRecord
}

// Board is the per-development pipeline view: all units annotated, plus
// stage-funnel and health counts.
type Board struct {
	Development domain.Development
	Rows        []BoardRow
	Funnel      map[string]int
	Health      map[string]int
}

func (e Engine) PipelineBoard(ctx context.Context, tenantID, developmentID string) (Board, error) {
	dev, err := e.Repo.GetDevelopment(ctx, tenantID, developmentID)
	if err != nil {
		return Board{}, err
	}
	units, err := e.Repo.ListUnits(ctx, tenantID, repo.UnitFilters{DevelopmentID: developmentID})
	if err != nil {
		return Board{}, err
	}
	records, err := e.Repo.ListPipelinesByDevelopment(ctx, tenantID, developmentID)
	if err != nil {
		return Board{}, err
	}
	byUnit := make(map[string]domain.PipelineRecord, len(records))
	for _, rec := range records {
		byUnit[rec.UnitID] = rec
	}
	board := Board{
		Development: dev,
		Funnel:      make(map[string]int),
		Health:      make(map[string]int),
	}
	for _, u := range units {
		rec, ok := byUnit[u.ID]
		if !ok {
			rec = domain.PipelineRecord{TenantID: tenantID, DevelopmentID: developmentID, UnitID: u.ID}
		}
		ann := e.annotate(rec)
		row := BoardRow{
			Unit:      u,
			Stage:     ann.Stage,
			EnteredAt: ann.EnteredAt,
			DwellDays: ann.DwellDays,
			Health:    ann.Health,
		}
		if ok {
			r := rec
			row.Record = &r
		}
		board.Rows = append(board.Rows, row)
		board.Funnel[ann.Stage]++
		board.Health[ann.Health]++
	}
	return board, nil
}

var noteTypes = map[string]bool{"general": true, "query": true, "issue": true, "update": true}

// NoteOptions add a note to a unit's pipeline record.
type NoteOptions struct {
	TenantID string
	UnitID   string
	NoteType string
	Content  string
	ActorID  string
}

func (e Engine) AddNote(ctx context.Context, opts NoteOptions) (domain.PipelineNote, error) {
	if strings.TrimSpace(opts.Content) == "" {
		return domain.PipelineNote{}, errors.New("content is required")
	}
	if opts.NoteType == "" {
		opts.NoteType = "general"
	}
	if !noteTypes[opts.NoteType] {
		return domain.PipelineNote{}, fmt.Errorf("invalid note type %s", opts.NoteType)
	}
	unit, err := e.Repo.GetUnit(ctx, opts.TenantID, opts.UnitID)
	if err != nil {
		return domain.PipelineNote{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PipelineNote{}, err
	}
	defer tx.Rollback()

	rec, err := e.Repo.EnsurePipelineTx(ctx, tx, uuid.NewString(), unit, now)
	if err != nil {
		return domain.PipelineNote{}, err
	}
	n := domain.PipelineNote{
		ID:         uuid.NewString(),
		TenantID:   opts.TenantID,
		PipelineID: rec.ID,
		UnitID:     opts.UnitID,
		NoteType:   opts.NoteType,
		Content:    strings.TrimSpace(opts.Content),
		CreatedBy:  opts.ActorID,
		CreatedAt:  now,
	}
	if err := e.Repo.InsertNoteTx(ctx, tx, n); err != nil {
		return domain.PipelineNote{}, err
	}
	if err := e.Events.Append(ctx, tx, "pipeline.note_added", opts.TenantID, "note", n.ID, opts.ActorID, events.EventPayload{
		"unit_id":   opts.UnitID,
		"note_type": n.NoteType,
	}); err != nil {
		return domain.PipelineNote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PipelineNote{}, err
	}
	return n, nil
}

// NotesView lists a unit's notes with resolution stats.
type NotesView struct {
	Notes      []domain.PipelineNote
	Total      int
	Unresolved int
}

func (e Engine) ListNotes(ctx context.Context, tenantID, unitID string) (NotesView, error) {
	if _, err := e.Repo.GetUnit(ctx, tenantID, unitID); err != nil {
		return NotesView{}, err
	}
	notes, err := e.Repo.ListNotesByUnit(ctx, tenantID, unitID)
	if err != nil {
		return NotesView{}, err
	}
	view := NotesView{Notes: notes, Total: len(notes)}
	for _, n := range notes {
		if !n.IsResolved {
			view.Unresolved++
		}
	}
	return view, nil
}

func (e Engine) ResolveNote(ctx context.Context, tenantID, noteID string, resolved bool, actorID string) (domain.PipelineNote, error) {
	if _, err := e.Repo.GetNote(ctx, tenantID, noteID); err != nil {
		return domain.PipelineNote{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PipelineNote{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.SetNoteResolvedTx(ctx, tx, noteID, resolved, actorID, now); err != nil {
		return domain.PipelineNote{}, err
	}
	evtType := "pipeline.note_resolved"
	if !resolved {
		evtType = "pipeline.note_reopened"
	}
	if err := e.Events.Append(ctx, tx, evtType, tenantID, "note", noteID, actorID, nil); err != nil {
		return domain.PipelineNote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PipelineNote{}, err
	}
	return e.Repo.GetNote(ctx, tenantID, noteID)
}

var complianceStatuses = map[string]bool{"uploaded": true, "verified": true, "expired": true, "missing": true}

// ComplianceOptions set the status of one document kind on a unit.
type ComplianceOptions struct {
	TenantID   string
	UnitID     string
	Kind       string
	Status     string
	ExpiryDate string
	ActorID    string
}

func (e Engine) SetCompliance(ctx context.Context, opts ComplianceOptions) (domain.ComplianceDocument, error) {
	if opts.Kind == "" {
		return domain.ComplianceDocument{}, errors.New("kind is required")
	}
	if !complianceStatuses[opts.Status] {
		return domain.ComplianceDocument{}, fmt.Errorf("invalid compliance status %s", opts.Status)
	}
	unit, err := e.Repo.GetUnit(ctx, opts.TenantID, opts.UnitID)
	if err != nil {
		return domain.ComplianceDocument{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	doc := domain.ComplianceDocument{
		ID:            uuid.NewString(),
		TenantID:      opts.TenantID,
		DevelopmentID: unit.DevelopmentID,
		UnitID:        unit.ID,
		Kind:          opts.Kind,
		Status:        opts.Status,
		ExpiryDate:    opts.ExpiryDate,
		UploadedBy:    opts.ActorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ComplianceDocument{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpsertComplianceTx(ctx, tx, doc); err != nil {
		return domain.ComplianceDocument{}, err
	}
	if err := e.Events.Append(ctx, tx, "compliance.document_set", opts.TenantID, "compliance", doc.ID, opts.ActorID, events.EventPayload{
		"unit_id": unit.ID,
		"kind":    doc.Kind,
		"status":  doc.Status,
	}); err != nil {
		return domain.ComplianceDocument{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ComplianceDocument{}, err
	}
	return e.Repo.GetCompliance(ctx, opts.TenantID, unit.ID, opts.Kind)
}

// MissingDocument marks a required kind a unit has no record for.
type MissingDocument struct {
	UnitID      string
	UnitNumber  string
	Kind        string
	Description string
}

// ComplianceRegister is the per-development document view.
type ComplianceRegister struct {
	Development domain.Development
	Documents   []domain.ComplianceDocument
	Missing     []MissingDocument
	Stats       map[string]int
}

func (e Engine) Compliance(ctx context.Context, tenantID, developmentID string) (ComplianceRegister, error) {
	dev, err := e.Repo.GetDevelopment(ctx, tenantID, developmentID)
	if err != nil {
		return ComplianceRegister{}, err
	}
	units, err := e.Repo.ListUnits(ctx, tenantID, repo.UnitFilters{DevelopmentID: developmentID})
	if err != nil {
		return ComplianceRegister{}, err
	}
	docs, err := e.Repo.ListComplianceByDevelopment(ctx, tenantID, developmentID)
	if err != nil {
		return ComplianceRegister{}, err
	}
	register := ComplianceRegister{Development: dev, Documents: docs, Stats: make(map[string]int)}
	have := make(map[string]bool, len(docs))
	for _, d := range docs {
		have[d.UnitID+"|"+d.Kind] = true
		register.Stats[d.Status]++
	}
	if e.Config != nil {
		for _, u := range units {
			for kind, desc := range e.Config.Compliance.Required {
				if !have[u.ID+"|"+kind] {
					register.Missing = append(register.Missing, MissingDocument{
						UnitID:      u.ID,
						UnitNumber:  u.UnitNumber,
						Kind:        kind,
						Description: desc,
					})
				}
			}
		}
	}
	register.Stats["missing"] += len(register.Missing)
	return register, nil
}

// SnagOptions raise a snag item against a unit.
type SnagOptions struct {
	TenantID    string
	UnitID      string
	Description string
	Location    string
	ActorID     string
}

func (e Engine) CreateSnag(ctx context.Context, opts SnagOptions) (domain.SnagItem, error) {
	if strings.TrimSpace(opts.Description) == "" {
		return domain.SnagItem{}, errors.New("description is required")
	}
	unit, err := e.Repo.GetUnit(ctx, opts.TenantID, opts.UnitID)
	if err != nil {
		return domain.SnagItem{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	s := domain.SnagItem{
		ID:            uuid.NewString(),
		TenantID:      opts.TenantID,
		DevelopmentID: unit.DevelopmentID,
		UnitID:        unit.ID,
		Description:   strings.TrimSpace(opts.Description),
		Location:      opts.Location,
		Status:        "open",
		RaisedBy:      opts.ActorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SnagItem{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertSnagTx(ctx, tx, s); err != nil {
		return domain.SnagItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "snag.created", opts.TenantID, "snag", s.ID, opts.ActorID, events.EventPayload{
		"unit_id": unit.ID,
	}); err != nil {
		return domain.SnagItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SnagItem{}, err
	}
	return s, nil
}

func ensureSnagTransition(current, next string) error {
	switch current {
	case "open":
		if next == "in_progress" || next == "resolved" || next == "closed" {
			return nil
		}
	case "in_progress":
		if next == "open" || next == "resolved" || next == "closed" {
			return nil
		}
	case "resolved":
		if next == "open" || next == "closed" {
			return nil
		}
	case "closed":
		// Terminal.
	}
	return fmt.Errorf("invalid snag transition %s -> %s", current, next)
}

func (e Engine) UpdateSnagStatus(ctx context.Context, tenantID, snagID, status, actorID string) (domain.SnagItem, error) {
	s, err := e.Repo.GetSnag(ctx, tenantID, snagID)
	if err != nil {
		return domain.SnagItem{}, err
	}
	if err := ensureSnagTransition(s.Status, status); err != nil {
		return domain.SnagItem{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SnagItem{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateSnagStatusTx(ctx, tx, snagID, status, now); err != nil {
		return domain.SnagItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "snag.status_changed", tenantID, "snag", snagID, actorID, events.EventPayload{
		"from": s.Status,
		"to":   status,
	}); err != nil {
		return domain.SnagItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SnagItem{}, err
	}
	return e.Repo.GetSnag(ctx, tenantID, snagID)
}

// Attention builds the needs-attention list for every development the tenant
// holds. Pure aggregation over current records; nothing is persisted.
func (e Engine) Attention(ctx context.Context, tenantID string) ([]domain.AttentionItem, error) {
	developments, err := e.Repo.ListDevelopments(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	records, err := e.Repo.ListPipelinesByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	docs, err := e.Repo.ListComplianceByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	snags, err := e.Repo.ListSnags(ctx, tenantID, repo.SnagFilters{})
	if err != nil {
		return nil, err
	}
	return pipeline.AggregateAttention(developments, records, docs, snags, e.now()), nil
}

// Chase renders a chase message for a unit at the given target stage and logs
// the generation. Delivery is left to the caller.
func (e Engine) Chase(ctx context.Context, tenantID, unitID, targetStage, actorID string) (domain.ChaseMessage, error) {
	unit, err := e.Repo.GetUnit(ctx, tenantID, unitID)
	if err != nil {
		return domain.ChaseMessage{}, err
	}
	dev, err := e.Repo.GetDevelopment(ctx, tenantID, unit.DevelopmentID)
	if err != nil {
		return domain.ChaseMessage{}, err
	}
	rec, err := e.Repo.GetPipelineByUnit(ctx, tenantID, unitID)
	if err != nil {
		return domain.ChaseMessage{}, err
	}
	label := unit.UnitNumber
	if unit.Address != "" {
		label = unit.Address
	}
	msg, err := pipeline.GenerateChase(rec, targetStage, label, dev.Name, e.now())
	if err != nil {
		return domain.ChaseMessage{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChaseMessage{}, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "pipeline.chase_generated", tenantID, "pipeline", rec.ID, actorID, events.EventPayload{
		"unit_id":      unitID,
		"stage":        targetStage,
		"days_pending": msg.DaysPending,
	}); err != nil {
		return domain.ChaseMessage{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChaseMessage{}, err
	}
	return msg, nil
}

func (e Engine) AssignRole(ctx context.Context, tenantID, actorID, role, byActor string) error {
	if role != "developer" && role != "admin" && role != "super_admin" {
		return fmt.Errorf("invalid role %s", role)
	}
	if _, err := e.Repo.GetTenant(ctx, tenantID); err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, tenantID, actorID, role); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "role.assigned", tenantID, "actor", actorID, byActor, events.EventPayload{"role": role}); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAPIKey mints a key for an actor and returns the plaintext once.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", errors.New("actor_id is required")
	}
	plain := uuid.NewString() + uuid.NewString()
	now := e.now().UTC().Format(time.RFC3339)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/engine"
	"siteline/internal/migrate"
	"siteline/internal/pipeline"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	DevID  string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("tenant-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return fixedNow }
	ctx := context.Background()
	if _, err := eng.InitTenant(ctx, "tenant-1", "Test Homes", "tester"); err != nil {
		t.Fatalf("init tenant: %v", err)
	}
	dev, err := eng.CreateDevelopment(ctx, "tenant-1", "Rathard Park", "RP", "tester")
	if err != nil {
		t.Fatalf("create development: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, DevID: dev.ID}
}

func (env testEnv) newUnit(t *testing.T, number string, bedrooms int) string {
	t.Helper()
	u, err := env.Engine.CreateUnit(env.Ctx, engine.UnitCreateOptions{
		TenantID:      "tenant-1",
		DevelopmentID: env.DevID,
		UnitNumber:    number,
		Bedrooms:      bedrooms,
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatalf("create unit: %v", err)
	}
	return u.ID
}

func daysAgo(days int) string {
	return fixedNow.AddDate(0, 0, -days).Format(time.RFC3339)
}

func TestRecordMilestoneLazyCreatesRecord(t *testing.T) {
	env := newTestEnv(t)
	unitID := env.newUnit(t, "14", 3)

	rec, err := env.Engine.RecordMilestone(env.Ctx, engine.MilestoneOptions{
		TenantID: "tenant-1", UnitID: unitID, Field: "release_date", Value: daysAgo(5), ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("record milestone: %v", err)
	}
	if rec.ReleaseDate == nil || *rec.ReleaseDate != daysAgo(5) {
		t.Fatalf("release date not stored: %+v", rec)
	}
	audit, err := env.Engine.Repo.GetFieldAudit(env.Ctx, rec.ID)
	if err != nil {
		t.Fatalf("field audit: %v", err)
	}
	stamp, ok := audit["release_date"]
	if !ok || stamp.UpdatedBy != "tester" {
		t.Fatalf("expected audit stamp by tester, got %+v", audit)
	}
}

func TestRecordMilestoneRejectsUnknownField(t *testing.T) {
	env := newTestEnv(t)
	unitID := env.newUnit(t, "1", 3)
	_, err := env.Engine.RecordMilestone(env.Ctx, engine.MilestoneOptions{
		TenantID: "tenant-1", UnitID: unitID, Field: "purchaser_email", Value: daysAgo(1), ActorID: "tester",
	})
	if err == nil || !strings.Contains(err.Error(), "unknown milestone field") {
		t.Fatalf("expected field rejection, got %v", err)
	}
}

func TestRecordMilestoneClear(t *testing.T) {
	env := newTestEnv(t)
	unitID := env.newUnit(t, "2", 3)
	if _, err := env.Engine.RecordMilestone(env.Ctx, engine.MilestoneOptions{
		TenantID: "tenant-1", UnitID: unitID, Field: "sale_agreed_date", Value: daysAgo(3), ActorID: "tester",
	}); err != nil {
		t.Fatalf("set: %v", err)
	}
	rec, err := env.Engine.RecordMilestone(env.Ctx, engine.MilestoneOptions{
		TenantID: "tenant-1", UnitID: unitID, Field: "sale_agreed_date", Clear: true, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if rec.SaleAgreedDate != nil {
		t.Fatalf("expected cleared milestone, got %v", *rec.SaleAgreedDate)
	}
}

func TestPipelineBoardAnnotatesStageAndDwell(t *testing.T) {
	env := newTestEnv(t)
	stuckID := env.newUnit(t, "3", 3)
	freshID := env.newUnit(t, "4", 3)

	if _, err := env.Engine.RecordMilestone(env.Ctx, engine.MilestoneOptions{
		TenantID: "tenant-1", UnitID: stuckID, Field: "contracts_issued_date", Value: daysAgo(35), ActorID: "tester",
	}); err != nil {
		t.Fatalf("milestone: %v", err)
	}
	if _, err := env.Engine.RecordMilestone(env.Ctx, engine.MilestoneOptions{
		TenantID: "tenant-1", UnitID: freshID, Field: "release_date", Value: daysAgo(2), ActorID: "tester",
	}); err != nil {
		t.Fatalf("milestone: %v", err)
	}

	board, err := env.Engine.PipelineBoard(env.Ctx, "tenant-1", env.DevID)
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	if len(board.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(board.Rows))
	}
	byUnit := map[string]engine.BoardRow{}
	for _, row := range board.Rows {
		byUnit[row.Unit.ID] = row
	}
	stuck := byUnit[stuckID]
	if stuck.Stage != pipeline.StageContractsIssued || stuck.DwellDays != 35 || stuck.Health != pipeline.HealthRed {
		t.Fatalf("unexpected stuck row %+v", stuck)
	}
	fresh := byUnit[freshID]
	if fresh.Stage != pipeline.StageReleased || fresh.Health != pipeline.HealthGreen {
		t.Fatalf("unexpected fresh row %+v", fresh)
	}
	if board.Funnel[pipeline.StageContractsIssued] != 1 || board.Health[pipeline.HealthRed] != 1 {
		t.Fatalf("unexpected counts funnel=%v health=%v", board.Funnel, board.Health)
	}
}

func TestKitchenSelectionAutoDateAndPCSums(t *testing.T) {
	env := newTestEnv(t)
	takerID := env.newUnit(t, "5", 4)
	declinerID := env.newUnit(t, "6", 4)

	yes, no := true, false
	rec, err := env.Engine.UpdateKitchenSelection(env.Ctx, engine.KitchenOptions{
		TenantID: "tenant-1", UnitID: takerID, Field: "has_kitchen", BoolValue: &yes, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("has_kitchen: %v", err)
	}
	if rec.KitchenDate == nil {
		t.Fatalf("expected kitchen_date auto-set on has_kitchen=true")
	}
	for field, value := range map[string]string{"counter": "CT2", "cabinet": "Navy", "handle": "H4"} {
		if _, err := env.Engine.UpdateKitchenSelection(env.Ctx, engine.KitchenOptions{
			TenantID: "tenant-1", UnitID: takerID, Field: field, Value: value, ActorID: "tester",
		}); err != nil {
			t.Fatalf("%s: %v", field, err)
		}
	}
	if _, err := env.Engine.UpdateKitchenSelection(env.Ctx, engine.KitchenOptions{
		TenantID: "tenant-1", UnitID: takerID, Field: "counter", Value: "CT9", ActorID: "tester",
	}); err == nil {
		t.Fatalf("expected unknown counter type rejection")
	}

	if _, err := env.Engine.UpdateKitchenSelection(env.Ctx, engine.KitchenOptions{
		TenantID: "tenant-1", UnitID: declinerID, Field: "has_kitchen", BoolValue: &no, ActorID: "tester",
	}); err != nil {
		t.Fatalf("decline kitchen: %v", err)
	}
	if _, err := env.Engine.UpdateKitchenSelection(env.Ctx, engine.KitchenOptions{
		TenantID: "tenant-1", UnitID: declinerID, Field: "has_wardrobe", BoolValue: &no, ActorID: "tester",
	}); err != nil {
		t.Fatalf("decline wardrobe: %v", err)
	}

	schedule, err := env.Engine.KitchenSchedule(env.Ctx, "tenant-1", env.DevID)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	rows := map[string]engine.KitchenRow{}
	for _, row := range schedule.Rows {
		rows[row.Unit.ID] = row
	}
	taker := rows[takerID]
	if taker.Status != "complete" || taker.PCSumTotal != 0 {
		t.Fatalf("unexpected taker row %+v", taker)
	}
	decliner := rows[declinerID]
	if decliner.Status != "complete" {
		t.Fatalf("declining the developer kitchen is a decision: %+v", decliner)
	}
	if decliner.PCSumKitchen != -7000 || decliner.PCSumWardrobe != -1000 || decliner.PCSumTotal != -8000 {
		t.Fatalf("unexpected PC sums %+v", decliner)
	}
	if schedule.Summary.Decided != 2 || schedule.Summary.TakingKitchen != 1 || schedule.Summary.TakingOwnKitchen != 1 {
		t.Fatalf("unexpected summary %+v", schedule.Summary)
	}
	if schedule.Summary.TotalPCSumImpact != -8000 {
		t.Fatalf("unexpected total PC sum %d", schedule.Summary.TotalPCSumImpact)
	}
}

func TestNoteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	unitID := env.newUnit(t, "7", 3)

	note, err := env.Engine.AddNote(env.Ctx, engine.NoteOptions{
		TenantID: "tenant-1", UnitID: unitID, NoteType: "query", Content: "Where is the contract?", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if note.IsResolved {
		t.Fatalf("new note should be unresolved")
	}
	if _, err := env.Engine.AddNote(env.Ctx, engine.NoteOptions{
		TenantID: "tenant-1", UnitID: unitID, NoteType: "rant", Content: "nope", ActorID: "tester",
	}); err == nil {
		t.Fatalf("expected invalid note type rejection")
	}

	resolved, err := env.Engine.ResolveNote(env.Ctx, "tenant-1", note.ID, true, "admin")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.IsResolved || resolved.ResolvedBy != "admin" || resolved.ResolvedAt == "" {
		t.Fatalf("unexpected resolved note %+v", resolved)
	}
	reopened, err := env.Engine.ResolveNote(env.Ctx, "tenant-1", note.ID, false, "admin")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.IsResolved || reopened.ResolvedBy != "" || reopened.ResolvedAt != "" {
		t.Fatalf("unexpected reopened note %+v", reopened)
	}

	view, err := env.Engine.ListNotes(env.Ctx, "tenant-1", unitID)
	if err != nil {
		t.Fatalf("list notes: %v", err)
	}
	if view.Total != 1 || view.Unresolved != 1 {
		t.Fatalf("unexpected stats %+v", view)
	}
}

func TestSnagStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	unitID := env.newUnit(t, "8", 3)
	snag, err := env.Engine.CreateSnag(env.Ctx, engine.SnagOptions{
		TenantID: "tenant-1", UnitID: unitID, Description: "Cracked tile", Location: "Kitchen", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create snag: %v", err)
	}
	for _, status := range []string{"in_progress", "resolved", "closed"} {
		snag, err = env.Engine.UpdateSnagStatus(env.Ctx, "tenant-1", snag.ID, status, "tester")
		if err != nil || snag.Status != status {
			t.Fatalf("to %s: %v", status, err)
		}
	}
	if _, err := env.Engine.UpdateSnagStatus(env.Ctx, "tenant-1", snag.ID, "open", "tester"); err == nil {
		t.Fatalf("closed should be terminal")
	}
}

func TestAttentionAcrossDomains(t *testing.T) {
	env := newTestEnv(t)
	stuckID := env.newUnit(t, "9", 3)
	if _, err := env.Engine.RecordMilestone(env.Ctx, engine.MilestoneOptions{
		TenantID: "tenant-1", UnitID: stuckID, Field: "contracts_issued_date", Value: daysAgo(35), ActorID: "tester",
	}); err != nil {
		t.Fatalf("milestone: %v", err)
	}
	docUnit := env.newUnit(t, "10", 3)
	if _, err := env.Engine.SetCompliance(env.Ctx, engine.ComplianceOptions{
		TenantID: "tenant-1", UnitID: docUnit, Kind: "ber", Status: "expired", ActorID: "tester",
	}); err != nil {
		t.Fatalf("compliance: %v", err)
	}
	snagUnit := env.newUnit(t, "11", 3)
	for i := 0; i < 5; i++ {
		if _, err := env.Engine.CreateSnag(env.Ctx, engine.SnagOptions{
			TenantID: "tenant-1", UnitID: snagUnit, Description: "item", ActorID: "tester",
		}); err != nil {
			t.Fatalf("snag: %v", err)
		}
	}

	items, err := env.Engine.Attention(env.Ctx, "tenant-1")
	if err != nil {
		t.Fatalf("attention: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %+v", items)
	}
	if items[0].Category != pipeline.CategoryStuckPipeline || items[0].Severity != pipeline.HealthRed {
		t.Fatalf("expected stuck_pipeline first, got %+v", items[0])
	}
	for _, item := range items[1:] {
		if item.Severity != pipeline.HealthAmber {
			t.Fatalf("expected amber tier after red, got %+v", item)
		}
	}
}

func TestChaseGeneratesAndLogs(t *testing.T) {
	env := newTestEnv(t)
	unitID := env.newUnit(t, "12", 3)
	if _, err := env.Engine.RecordMilestone(env.Ctx, engine.MilestoneOptions{
		TenantID: "tenant-1", UnitID: unitID, Field: "contracts_issued_date", Value: daysAgo(30), ActorID: "tester",
	}); err != nil {
		t.Fatalf("milestone: %v", err)
	}
	email := "buyer@example.com"
	name := "Niamh Kelly"
	if _, err := env.Engine.UpdateContact(env.Ctx, engine.ContactOptions{
		TenantID: "tenant-1", UnitID: unitID, PurchaserEmail: &email, PurchaserName: &name, ActorID: "tester",
	}); err != nil {
		t.Fatalf("contact: %v", err)
	}

	msg, err := env.Engine.Chase(env.Ctx, "tenant-1", unitID, "contracts", "tester")
	if err != nil {
		t.Fatalf("chase: %v", err)
	}
	if msg.Subject != "Action Required: Contracts - 12" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if msg.DaysPending != 30 || !strings.Contains(msg.Body, "It has been 30 days") {
		t.Fatalf("unexpected message %+v", msg)
	}

	events, err := env.Engine.Repo.ListEvents(env.Ctx, "tenant-1", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	found := false
	for _, evt := range events {
		if evt.Type == "pipeline.chase_generated" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected chase_generated event, got %+v", events)
	}
}

func TestChaseMissingContact(t *testing.T) {
	env := newTestEnv(t)
	unitID := env.newUnit(t, "13", 3)
	if _, err := env.Engine.RecordMilestone(env.Ctx, engine.MilestoneOptions{
		TenantID: "tenant-1", UnitID: unitID, Field: "contracts_issued_date", Value: daysAgo(40), ActorID: "tester",
	}); err != nil {
		t.Fatalf("milestone: %v", err)
	}
	_, err := env.Engine.Chase(env.Ctx, "tenant-1", unitID, "contracts", "tester")
	var missing pipeline.MissingContactError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingContactError, got %v", err)
	}
}

func TestComplianceRegisterComputesMissing(t *testing.T) {
	env := newTestEnv(t)
	unitID := env.newUnit(t, "15", 3)
	if _, err := env.Engine.SetCompliance(env.Ctx, engine.ComplianceOptions{
		TenantID: "tenant-1", UnitID: unitID, Kind: "homebond", Status: "verified", ActorID: "tester",
	}); err != nil {
		t.Fatalf("compliance: %v", err)
	}
	register, err := env.Engine.Compliance(env.Ctx, "tenant-1", env.DevID)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if register.Stats["verified"] != 1 {
		t.Fatalf("unexpected stats %+v", register.Stats)
	}
	// Default config requires four kinds; one is present.
	if len(register.Missing) != 3 {
		t.Fatalf("expected 3 missing kinds, got %+v", register.Missing)
	}
}

package pipeline

import (
	"reflect"
	"testing"

	"siteline/internal/domain"
)

func devs(ids ...string) []domain.Development {
	out := make([]domain.Development, len(ids))
	for i, id := range ids {
		out[i] = domain.Development{ID: id, Name: "Dev " + id}
	}
	return out
}

func TestAggregateAttentionEmptyInputs(t *testing.T) {
	items := AggregateAttention(devs("d1", "d2"), nil, nil, nil, testNow)
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}

func TestAggregateAttentionStuckPipeline(t *testing.T) {
	records := []domain.PipelineRecord{
		{DevelopmentID: "d1", UnitID: "u1", ContractsIssuedDate: tsAgo(35)},
		{DevelopmentID: "d1", UnitID: "u2", SaleAgreedDate: tsAgo(10)},
		{DevelopmentID: "d1", UnitID: "u3", DrawdownDate: tsAgo(40), HandoverDate: tsAgo(2)},
	}
	items := AggregateAttention(devs("d1"), records, nil, nil, testNow)
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	item := items[0]
	if item.Category != CategoryStuckPipeline || item.Severity != HealthRed {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.Count != 1 {
		t.Fatalf("expected only the in-flight red unit to count, got %d", item.Count)
	}
}

func TestAggregateAttentionComplianceFiresFromOne(t *testing.T) {
	docs := []domain.ComplianceDocument{
		{DevelopmentID: "d1", UnitID: "u1", Status: "expired"},
		{DevelopmentID: "d1", UnitID: "u2", Status: "verified"},
	}
	items := AggregateAttention(devs("d1"), nil, docs, nil, testNow)
	if len(items) != 1 || items[0].Category != CategoryComplianceOverdue {
		t.Fatalf("expected compliance item, got %+v", items)
	}
	if items[0].Severity != HealthAmber || items[0].Count != 1 {
		t.Fatalf("unexpected item %+v", items[0])
	}
}

func TestAggregateAttentionSnagVolumeGate(t *testing.T) {
	var snags []domain.SnagItem
	for i := 0; i < 4; i++ {
		snags = append(snags, domain.SnagItem{DevelopmentID: "d1", Status: "open"})
	}
	if items := AggregateAttention(devs("d1"), nil, nil, snags, testNow); len(items) != 0 {
		t.Fatalf("expected no item for 4 open snags, got %+v", items)
	}
	snags = append(snags, domain.SnagItem{DevelopmentID: "d1", Status: "in_progress"})
	items := AggregateAttention(devs("d1"), nil, nil, snags, testNow)
	if len(items) != 1 || items[0].Category != CategoryOpenSnags || items[0].Count != 5 {
		t.Fatalf("expected open_snags item with count 5, got %+v", items)
	}
}

func TestAggregateAttentionSnagPerDevelopment(t *testing.T) {
	var snags []domain.SnagItem
	for i := 0; i < 6; i++ {
		snags = append(snags, domain.SnagItem{DevelopmentID: "d1", Status: "open"})
	}
	for i := 0; i < 3; i++ {
		snags = append(snags, domain.SnagItem{DevelopmentID: "d2", Status: "open"})
	}
	items := AggregateAttention(devs("d1", "d2"), nil, nil, snags, testNow)
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %+v", items)
	}
	if items[0].DevelopmentID != "d1" || items[0].Count != 6 {
		t.Fatalf("unexpected item %+v", items[0])
	}
}

func TestAggregateAttentionSeverityOrdering(t *testing.T) {
	records := []domain.PipelineRecord{
		{DevelopmentID: "d2", UnitID: "u1", ContractsIssuedDate: tsAgo(45)},
	}
	docs := []domain.ComplianceDocument{
		{DevelopmentID: "d1", UnitID: "u2", Status: "missing"},
	}
	items := AggregateAttention(devs("d1", "d2"), records, docs, nil, testNow)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Severity != HealthRed || items[1].Severity != HealthAmber {
		t.Fatalf("expected red before amber, got %s then %s", items[0].Severity, items[1].Severity)
	}
}

func TestAggregateAttentionDeterministic(t *testing.T) {
	records := []domain.PipelineRecord{
		{DevelopmentID: "d1", UnitID: "u1", ContractsIssuedDate: tsAgo(35)},
		{DevelopmentID: "d2", UnitID: "u2", DepositPaidDate: tsAgo(60)},
	}
	docs := []domain.ComplianceDocument{
		{DevelopmentID: "d1", UnitID: "u1", Status: "expired"},
		{DevelopmentID: "d2", UnitID: "u2", Status: "missing"},
	}
	var snags []domain.SnagItem
	for i := 0; i < 7; i++ {
		snags = append(snags, domain.SnagItem{DevelopmentID: "d2", Status: "open"})
	}
	first := AggregateAttention(devs("d1", "d2"), records, docs, snags, testNow)
	second := AggregateAttention(devs("d1", "d2"), records, docs, snags, testNow)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("aggregation not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestThirtyFiveDayContractScenario(t *testing.T) {
	rec := domain.PipelineRecord{
		DevelopmentID:       "d1",
		UnitID:              "u1",
		ReleaseDate:         tsAgo(120),
		ContractsIssuedDate: tsAgo(35),
	}
	info := DeriveStage(rec)
	if info.Stage != StageContractsIssued {
		t.Fatalf("expected %s, got %s", StageContractsIssued, info.Stage)
	}
	dwell := ClassifyDwell(info.EnteredAt, testNow)
	if dwell.Days != 35 || dwell.Health != HealthRed {
		t.Fatalf("expected 35/red, got %d/%s", dwell.Days, dwell.Health)
	}
	items := AggregateAttention(devs("d1"), []domain.PipelineRecord{rec}, nil, nil, testNow)
	if len(items) != 1 || items[0].Category != CategoryStuckPipeline || items[0].Count != 1 {
		t.Fatalf("expected stuck_pipeline item, got %+v", items)
	}
}

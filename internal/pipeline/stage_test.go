package pipeline

import (
	"testing"
	"time"

	"siteline/internal/domain"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func tsAgo(days int) *string {
	s := testNow.AddDate(0, 0, -days).Format(time.RFC3339)
	return &s
}

func TestDeriveStageAllNull(t *testing.T) {
	info := DeriveStage(domain.PipelineRecord{})
	if info.Stage != StageReleased {
		t.Fatalf("expected %s, got %s", StageReleased, info.Stage)
	}
	if info.EnteredAt != nil {
		t.Fatalf("expected nil entered_at, got %v", info.EnteredAt)
	}
}

func TestDeriveStageReleaseOnly(t *testing.T) {
	rec := domain.PipelineRecord{ReleaseDate: tsAgo(10)}
	info := DeriveStage(rec)
	if info.Stage != StageReleased {
		t.Fatalf("expected %s, got %s", StageReleased, info.Stage)
	}
	if info.EnteredAt == nil || !info.EnteredAt.Equal(testNow.AddDate(0, 0, -10)) {
		t.Fatalf("expected entered_at 10 days ago, got %v", info.EnteredAt)
	}
}

func TestDeriveStageHandoverShortCircuits(t *testing.T) {
	rec := domain.PipelineRecord{
		ReleaseDate:  tsAgo(300),
		HandoverDate: tsAgo(1),
	}
	if got := DeriveStage(rec).Stage; got != StageHandedOver {
		t.Fatalf("expected %s, got %s", StageHandedOver, got)
	}
	// Even with every intermediate milestone missing.
	rec = domain.PipelineRecord{HandoverDate: tsAgo(1)}
	if got := DeriveStage(rec).Stage; got != StageHandedOver {
		t.Fatalf("expected %s, got %s", StageHandedOver, got)
	}
}

func TestDeriveStageMonotonic(t *testing.T) {
	setters := []func(*domain.PipelineRecord, *string){
		func(r *domain.PipelineRecord, v *string) { r.ReleaseDate = v },
		func(r *domain.PipelineRecord, v *string) { r.SaleAgreedDate = v },
		func(r *domain.PipelineRecord, v *string) { r.DepositPaidDate = v },
		func(r *domain.PipelineRecord, v *string) { r.ContractsIssuedDate = v },
		func(r *domain.PipelineRecord, v *string) { r.SignedContractsDate = v },
		func(r *domain.PipelineRecord, v *string) { r.CounterSignedDate = v },
		func(r *domain.PipelineRecord, v *string) { r.KitchenDate = v },
		func(r *domain.PipelineRecord, v *string) { r.SnagDate = v },
		func(r *domain.PipelineRecord, v *string) { r.DesnagDate = v },
		func(r *domain.PipelineRecord, v *string) { r.DrawdownDate = v },
		func(r *domain.PipelineRecord, v *string) { r.HandoverDate = v },
	}
	stages := Stages()
	if len(setters) != len(stages) {
		t.Fatalf("setter list out of sync with stage order")
	}
	for k, stage := range stages {
		var rec domain.PipelineRecord
		for i := 0; i <= k; i++ {
			setters[i](&rec, tsAgo(100-i))
		}
		if got := DeriveStage(rec).Stage; got != stage {
			t.Fatalf("milestone %d set: expected stage %s, got %s", k, stage, got)
		}
	}
}

func TestDeriveStageToleratesChainGaps(t *testing.T) {
	rec := domain.PipelineRecord{
		ReleaseDate:         tsAgo(90),
		SignedContractsDate: tsAgo(12),
		// deposit_paid and contracts_issued never entered.
	}
	info := DeriveStage(rec)
	if info.Stage != StageContractsSigned {
		t.Fatalf("expected %s, got %s", StageContractsSigned, info.Stage)
	}
	if info.EnteredAt == nil || !info.EnteredAt.Equal(testNow.AddDate(0, 0, -12)) {
		t.Fatalf("expected entered_at from signed contracts, got %v", info.EnteredAt)
	}
}

func TestDeriveStageIgnoresMalformedTimestamps(t *testing.T) {
	bad := "not-a-date"
	rec := domain.PipelineRecord{
		SaleAgreedDate:  tsAgo(5),
		DepositPaidDate: &bad,
	}
	if got := DeriveStage(rec).Stage; got != StageSaleAgreed {
		t.Fatalf("expected %s, got %s", StageSaleAgreed, got)
	}
}

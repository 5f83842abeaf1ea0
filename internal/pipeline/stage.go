// Package pipeline holds the sales lifecycle rules: stage derivation, dwell
// classification, attention aggregation and chase rendering. Everything here is
// a pure function over its inputs; callers supply the records and the clock.
package pipeline

import (
	"time"

	"siteline/internal/domain"
)

// Stage identifiers in canonical lifecycle order.
const (
	StageReleased        = "released"
	StageSaleAgreed      = "sale_agreed"
	StageDepositPaid     = "deposit_paid"
	StageContractsIssued = "contracts_issued"
	StageContractsSigned = "contracts_signed"
	StageCounterSigned   = "counter_signed"
	StageKitchenSelected = "kitchen_selected"
	StageSnagged         = "snagged"
	StageDesnagged       = "desnagged"
	StageDrawdown        = "drawdown"
	StageHandedOver      = "handed_over"
)

type stageBinding struct {
	ID        string
	Milestone func(domain.PipelineRecord) *string
}

// stageOrder binds each stage to the milestone field that marks it started.
// It is the single source of truth for both DeriveStage and the chase
// generator's reference-date table.
var stageOrder = []stageBinding{
	{StageReleased, func(r domain.PipelineRecord) *string { return r.ReleaseDate }},
	{StageSaleAgreed, func(r domain.PipelineRecord) *string { return r.SaleAgreedDate }},
	{StageDepositPaid, func(r domain.PipelineRecord) *string { return r.DepositPaidDate }},
	{StageContractsIssued, func(r domain.PipelineRecord) *string { return r.ContractsIssuedDate }},
	{StageContractsSigned, func(r domain.PipelineRecord) *string { return r.SignedContractsDate }},
	{StageCounterSigned, func(r domain.PipelineRecord) *string { return r.CounterSignedDate }},
	{StageKitchenSelected, func(r domain.PipelineRecord) *string { return r.KitchenDate }},
	{StageSnagged, func(r domain.PipelineRecord) *string { return r.SnagDate }},
	{StageDesnagged, func(r domain.PipelineRecord) *string { return r.DesnagDate }},
	{StageDrawdown, func(r domain.PipelineRecord) *string { return r.DrawdownDate }},
	{StageHandedOver, func(r domain.PipelineRecord) *string { return r.HandoverDate }},
}

// Stages returns the stage identifiers in lifecycle order.
func Stages() []string {
	out := make([]string, len(stageOrder))
	for i, s := range stageOrder {
		out[i] = s.ID
	}
	return out
}

// StageInfo reports the current stage of a record and when it was entered.
// EnteredAt is nil when no milestone (not even a release date) is set.
type StageInfo struct {
	Stage     string
	EnteredAt *time.Time
}

// DeriveStage scans the stage order from the last stage toward the first and
// reports the most advanced stage whose milestone is set. Gaps in the chain
// are tolerated; data entry routinely lags behind reality and a missing
// intermediate milestone is not an error. A record with a handover date is
// always terminal. A record with no milestones at all sits at the initial
// stage with a nil entry time.
func DeriveStage(rec domain.PipelineRecord) StageInfo {
	for i := len(stageOrder) - 1; i >= 0; i-- {
		if ts, ok := parseTime(stageOrder[i].Milestone(rec)); ok {
			return StageInfo{Stage: stageOrder[i].ID, EnteredAt: &ts}
		}
	}
	return StageInfo{Stage: StageReleased}
}

// parseTime reads an optional RFC 3339 timestamp. Absent or malformed values
// count as "no signal".
func parseTime(s *string) (time.Time, bool) {
	if s == nil || *s == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

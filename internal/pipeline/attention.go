package pipeline

import (
	"fmt"
	"sort"
	"time"

	"siteline/internal/domain"
)

// Attention item categories.
const (
	CategoryStuckPipeline     = "stuck_pipeline"
	CategoryComplianceOverdue = "compliance_overdue"
	CategoryOpenSnags         = "open_snags"
)

// OpenSnagMinimum is the volume gate for the open-snags rule; fewer open snags
// than this is normal churn and raises no alert.
const OpenSnagMinimum = 5

// severityRank orders alert severities for display. Unknown severities sort
// after every known one.
var severityRank = map[string]int{
	HealthRed:   0,
	HealthAmber: 1,
	"gold":      2,
	"blue":      3,
}

func severityOrder(severity string) int {
	if rank, ok := severityRank[severity]; ok {
		return rank
	}
	return len(severityRank)
}

// AggregateAttention evaluates the three attention rules per development and
// returns the combined alert list sorted red before amber, stable within a
// tier. Empty or nil input collections simply contribute no items; a
// development with no units is not an error.
func AggregateAttention(developments []domain.Development, records []domain.PipelineRecord, docs []domain.ComplianceDocument, snags []domain.SnagItem, now time.Time) []domain.AttentionItem {
	stuck := make(map[string]int)
	for _, rec := range records {
		info := DeriveStage(rec)
		if ClassifyDwell(info.EnteredAt, now).Health != HealthRed {
			continue
		}
		if _, handedOver := parseTime(rec.HandoverDate); handedOver {
			continue
		}
		stuck[rec.DevelopmentID]++
	}

	overdue := make(map[string]int)
	for _, doc := range docs {
		if doc.Status == "expired" || doc.Status == "missing" {
			overdue[doc.DevelopmentID]++
		}
	}

	openSnags := make(map[string]int)
	for _, snag := range snags {
		if snag.Status == "open" || snag.Status == "in_progress" {
			openSnags[snag.DevelopmentID]++
		}
	}

	var items []domain.AttentionItem
	for _, dev := range developments {
		if n := stuck[dev.ID]; n > 0 {
			items = append(items, domain.AttentionItem{
				Category:        CategoryStuckPipeline,
				Severity:        HealthRed,
				DevelopmentID:   dev.ID,
				DevelopmentName: dev.Name,
				Count:           n,
				Summary:         fmt.Sprintf("%d units stuck in pipeline over %d days at %s", n, RedAfterDays, dev.Name),
			})
		}
		if n := overdue[dev.ID]; n > 0 {
			items = append(items, domain.AttentionItem{
				Category:        CategoryComplianceOverdue,
				Severity:        HealthAmber,
				DevelopmentID:   dev.ID,
				DevelopmentName: dev.Name,
				Count:           n,
				Summary:         fmt.Sprintf("%d compliance documents expired or missing at %s", n, dev.Name),
			})
		}
		if n := openSnags[dev.ID]; n >= OpenSnagMinimum {
			items = append(items, domain.AttentionItem{
				Category:        CategoryOpenSnags,
				Severity:        HealthAmber,
				DevelopmentID:   dev.ID,
				DevelopmentName: dev.Name,
				Count:           n,
				Summary:         fmt.Sprintf("%d open snag items at %s", n, dev.Name),
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return severityOrder(items[i].Severity) < severityOrder(items[j].Severity)
	})
	return items
}

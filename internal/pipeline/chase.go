package pipeline

import (
	"fmt"
	"strings"
	"time"

	"siteline/internal/domain"
)

// Chase target stages accepted by GenerateChase.
const (
	ChaseContracts = "contracts"
	ChaseKitchen   = "kitchen"
	ChaseSnag      = "snag"
	ChaseDesnag    = "desnag"
)

// MissingContactError means the pipeline record has no purchaser email, so no
// message can be addressed. User-correctable; the caller should not retry.
type MissingContactError struct {
	UnitID string
}

func (e MissingContactError) Error() string {
	return fmt.Sprintf("no purchaser email on pipeline record for unit %s", e.UnitID)
}

// chaseReference maps each chase target to the milestone the wait is measured
// from. The reference is the predecessor step: the message explains how long
// the purchaser has been sitting on the current one.
var chaseReference = map[string]func(domain.PipelineRecord) *string{
	ChaseContracts: func(r domain.PipelineRecord) *string { return r.ContractsIssuedDate },
	ChaseKitchen:   func(r domain.PipelineRecord) *string { return r.SignedContractsDate },
	ChaseSnag:      func(r domain.PipelineRecord) *string { return r.HandoverDate },
	ChaseDesnag:    func(r domain.PipelineRecord) *string { return r.DrawdownDate },
}

type chaseContext struct {
	UnitName        string
	DevelopmentName string
	DaysPending     int
}

// chaseBodies is the per-stage template table. Adding a stage means adding an
// entry here, not another branch in GenerateChase.
var chaseBodies = map[string]func(chaseContext) string{
	ChaseContracts: func(c chaseContext) string {
		overdue := ""
		if c.DaysPending > 28 {
			overdue = fmt.Sprintf("It has been %d days since contracts were issued.", c.DaysPending)
		}
		return fmt.Sprintf(`We note that signed contracts have not yet been received for your purchase at %s, %s. %s

Please return your signed contracts at your earliest convenience to avoid any delays in your purchase.`, c.UnitName, c.DevelopmentName, overdue)
	},
	ChaseKitchen: func(c chaseContext) string {
		return fmt.Sprintf(`We would like to remind you that your kitchen selection for %s at %s is still pending.

Please complete your kitchen selection as soon as possible so we can proceed with the installation schedule.`, c.UnitName, c.DevelopmentName)
	},
	ChaseSnag: func(c chaseContext) string {
		return fmt.Sprintf(`Your snagging inspection for %s at %s has not yet been scheduled.

Please contact us to arrange a convenient time for your snagging inspection before handover.`, c.UnitName, c.DevelopmentName)
	},
	ChaseDesnag: func(c chaseContext) string {
		return fmt.Sprintf(`The de-snagging works for %s at %s are still pending completion.

We are working to complete these items before your drawdown date.`, c.UnitName, c.DevelopmentName)
	},
}

func defaultChaseBody(c chaseContext) string {
	return fmt.Sprintf(`This is a gentle reminder regarding your purchase at %s, %s.

Please contact us if you have any questions.`, c.UnitName, c.DevelopmentName)
}

// GenerateChase renders a purchaser-facing reminder for the given target
// stage. It is a pure function; sending the message is the caller's concern.
func GenerateChase(rec domain.PipelineRecord, targetStage, unitName, developmentName string, now time.Time) (domain.ChaseMessage, error) {
	if strings.TrimSpace(rec.PurchaserEmail) == "" {
		return domain.ChaseMessage{}, MissingContactError{UnitID: rec.UnitID}
	}
	if unitName == "" {
		unitName = "Unit"
	}
	if developmentName == "" {
		developmentName = "the development"
	}

	daysPending := 0
	if ref, ok := chaseReference[targetStage]; ok {
		if ts, ok := parseTime(ref(rec)); ok {
			if d := int(now.Sub(ts).Hours() / 24); d > 0 {
				daysPending = d
			}
		}
	}

	ctx := chaseContext{UnitName: unitName, DevelopmentName: developmentName, DaysPending: daysPending}
	render, ok := chaseBodies[targetStage]
	if !ok {
		render = defaultChaseBody
	}

	greeting := "Dear Purchaser"
	if name := strings.TrimSpace(rec.PurchaserName); name != "" {
		greeting = "Dear " + strings.Fields(name)[0]
	}
	solicitorLine := ""
	if rec.SolicitorFirm != "" {
		solicitorLine = fmt.Sprintf("We have copied your solicitor at %s for their records.", rec.SolicitorFirm)
	}

	body := fmt.Sprintf(`%s,

%s

%s

Best regards,
The Sales Team`, greeting, render(ctx), solicitorLine)

	return domain.ChaseMessage{
		To:          rec.PurchaserEmail,
		CC:          rec.SolicitorFirm,
		Subject:     fmt.Sprintf("Action Required: %s - %s", capitalize(targetStage), unitName),
		Body:        body,
		Stage:       targetStage,
		DaysPending: daysPending,
	}, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

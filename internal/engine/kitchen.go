package engine

import (
	"context"

	"siteline/internal/domain"
	"siteline/internal/repo"
)

// KitchenRow is one unit's selection state with its PC-sum impact. The
// allowance is credited back (negative impact) only when the purchaser
// declines the developer kitchen or wardrobes.
type KitchenRow struct {
	Unit          domain.Unit
	PurchaserName string
	HasKitchen    *bool
	CounterType   string
	CabinetColor  string
	HandleStyle   string
	HasWardrobe   *bool
	Notes         string
	KitchenDate   *string
	Status        string
	PCSumKitchen  int
	PCSumWardrobe int
	PCSumTotal    int
}

// KitchenOptionCatalog lists the choices offered to purchasers.
type KitchenOptionCatalog struct {
	CounterTypes  map[string]string
	CabinetColors []string
	HandleStyles  []string
}

// KitchenSummary aggregates selection progress for a development.
type KitchenSummary struct {
	Total            int
	Decided          int
	TakingKitchen    int
	TakingOwnKitchen int
	Pending          int
	TotalPCSumImpact int
}

// KitchenSchedule is the per-development kitchen selection view.
type KitchenSchedule struct {
	Development domain.Development
	Rows        []KitchenRow
	Options     KitchenOptionCatalog
	Summary     KitchenSummary
}

func (e Engine) KitchenSchedule(ctx context.Context, tenantID, developmentID string) (KitchenSchedule, error) {
	dev, err := e.Repo.GetDevelopment(ctx, tenantID, developmentID)
	if err != nil {
		return KitchenSchedule{}, err
	}
	units, err := e.Repo.ListUnits(ctx, tenantID, repo.UnitFilters{DevelopmentID: developmentID})
	if err != nil {
		return KitchenSchedule{}, err
	}
	records, err := e.Repo.ListPipelinesByDevelopment(ctx, tenantID, developmentID)
	if err != nil {
		return KitchenSchedule{}, err
	}
	byUnit := make(map[string]domain.PipelineRecord, len(records))
	for _, rec := range records {
		byUnit[rec.UnitID] = rec
	}

	schedule := KitchenSchedule{Development: dev}
	if e.Config != nil {
		schedule.Options = KitchenOptionCatalog{
			CounterTypes:  e.Config.Kitchen.CounterTypes,
			CabinetColors: e.Config.Kitchen.CabinetColors,
			HandleStyles:  e.Config.Kitchen.HandleStyles,
		}
	}
	for _, u := range units {
		rec := byUnit[u.ID]
		row := KitchenRow{
			Unit:          u,
			PurchaserName: rec.PurchaserName,
			HasKitchen:    rec.HasKitchen,
			CounterType:   rec.KitchenCounter,
			CabinetColor:  rec.KitchenCabinet,
			HandleStyle:   rec.KitchenHandle,
			HasWardrobe:   rec.HasWardrobe,
			Notes:         rec.KitchenNotes,
			KitchenDate:   rec.KitchenDate,
			Status:        kitchenStatus(rec),
		}
		if e.Config != nil {
			a := e.Config.Kitchen.Allowances
			if rec.HasKitchen != nil && !*rec.HasKitchen {
				row.PCSumKitchen = -a.KitchenAllowance(u.Bedrooms)
			}
			if rec.HasWardrobe != nil && !*rec.HasWardrobe {
				row.PCSumWardrobe = -a.Wardrobe
			}
			row.PCSumTotal = row.PCSumKitchen + row.PCSumWardrobe
		}
		schedule.Rows = append(schedule.Rows, row)

		schedule.Summary.Total++
		schedule.Summary.TotalPCSumImpact += row.PCSumTotal
		switch {
		case rec.HasKitchen != nil && *rec.HasKitchen:
			schedule.Summary.TakingKitchen++
			schedule.Summary.Decided++
		case rec.HasKitchen != nil:
			schedule.Summary.TakingOwnKitchen++
			schedule.Summary.Decided++
		}
		if row.Status == "pending" {
			schedule.Summary.Pending++
		}
	}
	return schedule, nil
}

// kitchenStatus mirrors how selections are triaged: declining the developer
// kitchen is itself a complete decision, a full selection is complete, and
// any partial signal is pending.
func kitchenStatus(rec domain.PipelineRecord) string {
	hasDetails := rec.KitchenCounter != "" && rec.KitchenCabinet != "" && rec.KitchenHandle != ""
	switch {
	case rec.HasKitchen != nil && *rec.HasKitchen && hasDetails:
		return "complete"
	case rec.HasKitchen != nil && !*rec.HasKitchen:
		return "complete"
	case rec.HasKitchen != nil || rec.HasWardrobe != nil || rec.KitchenNotes != "":
		return "pending"
	default:
		return "none"
	}
}

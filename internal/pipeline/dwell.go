package pipeline

import "time"

// Health bands for time spent at a stage.
const (
	HealthGreen = "green"
	HealthAmber = "amber"
	HealthRed   = "red"
)

// Dwell thresholds in whole days. A unit is amber above 14 days at a stage and
// red above 30. The red threshold doubles as the "stuck" cutoff used by the
// attention aggregator.
const (
	AmberAfterDays = 14
	RedAfterDays   = 30
)

// Dwell is the elapsed whole days at the current stage and its health band.
type Dwell struct {
	Days   int
	Health string
}

// ClassifyDwell computes floor days between enteredAt and now, clamped to zero
// when enteredAt is nil or in the future, and maps the result to a health
// band. Day 30 is amber; day 31 is red.
func ClassifyDwell(enteredAt *time.Time, now time.Time) Dwell {
	days := 0
	if enteredAt != nil {
		if d := int(now.Sub(*enteredAt).Hours() / 24); d > 0 {
			days = d
		}
	}
	health := HealthGreen
	switch {
	case days > RedAfterDays:
		health = HealthRed
	case days > AmberAfterDays:
		health = HealthAmber
	}
	return Dwell{Days: days, Health: health}
}

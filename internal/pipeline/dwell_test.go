package pipeline

import (
	"testing"
	"time"
)

func TestClassifyDwellBands(t *testing.T) {
	cases := []struct {
		days   int
		health string
	}{
		{0, HealthGreen},
		{14, HealthGreen},
		{15, HealthAmber},
		{30, HealthAmber},
		{31, HealthRed},
		{90, HealthRed},
	}
	for _, tc := range cases {
		entered := testNow.AddDate(0, 0, -tc.days)
		got := ClassifyDwell(&entered, testNow)
		if got.Days != tc.days {
			t.Fatalf("days %d: got days %d", tc.days, got.Days)
		}
		if got.Health != tc.health {
			t.Fatalf("days %d: expected %s, got %s", tc.days, tc.health, got.Health)
		}
	}
}

func TestClassifyDwellNilEnteredAt(t *testing.T) {
	got := ClassifyDwell(nil, testNow)
	if got.Days != 0 || got.Health != HealthGreen {
		t.Fatalf("expected 0/green, got %d/%s", got.Days, got.Health)
	}
}

func TestClassifyDwellFutureClampsToZero(t *testing.T) {
	future := testNow.Add(72 * time.Hour)
	got := ClassifyDwell(&future, testNow)
	if got.Days != 0 || got.Health != HealthGreen {
		t.Fatalf("expected 0/green for future entry, got %d/%s", got.Days, got.Health)
	}
}

func TestClassifyDwellFloorsPartialDays(t *testing.T) {
	entered := testNow.Add(-47 * time.Hour)
	if got := ClassifyDwell(&entered, testNow); got.Days != 1 {
		t.Fatalf("expected floor to 1 day, got %d", got.Days)
	}
}

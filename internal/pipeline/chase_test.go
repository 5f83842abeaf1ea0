package pipeline

import (
	"errors"
	"strings"
	"testing"

	"siteline/internal/domain"
)

func TestGenerateChaseContractsOverdue(t *testing.T) {
	rec := domain.PipelineRecord{
		UnitID:              "u1",
		PurchaserName:       "Aoife Byrne",
		PurchaserEmail:      "aoife@example.com",
		SolicitorFirm:       "Byrne & Co",
		ContractsIssuedDate: tsAgo(30),
	}
	msg, err := GenerateChase(rec, ChaseContracts, "Unit 14", "Rathard Park", testNow)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if msg.Subject != "Action Required: Contracts - Unit 14" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if msg.DaysPending != 30 {
		t.Fatalf("expected 30 days pending, got %d", msg.DaysPending)
	}
	if !strings.Contains(msg.Body, "It has been 30 days since contracts were issued.") {
		t.Fatalf("expected overdue clause in body:\n%s", msg.Body)
	}
	if !strings.HasPrefix(msg.Body, "Dear Aoife,") {
		t.Fatalf("expected first-name greeting, got:\n%s", msg.Body)
	}
	if !strings.Contains(msg.Body, "copied your solicitor at Byrne & Co") {
		t.Fatalf("expected solicitor line, got:\n%s", msg.Body)
	}
	if msg.To != "aoife@example.com" || msg.CC != "Byrne & Co" {
		t.Fatalf("unexpected addressing %q / %q", msg.To, msg.CC)
	}
}

func TestGenerateChaseContractsRecentOmitsOverdueClause(t *testing.T) {
	rec := domain.PipelineRecord{
		UnitID:              "u1",
		PurchaserEmail:      "p@example.com",
		ContractsIssuedDate: tsAgo(10),
	}
	msg, err := GenerateChase(rec, ChaseContracts, "Unit 3", "Rathard Park", testNow)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if msg.DaysPending != 10 {
		t.Fatalf("expected 10 days pending, got %d", msg.DaysPending)
	}
	if strings.Contains(msg.Body, "since contracts were issued") {
		t.Fatalf("overdue clause should not appear at 10 days:\n%s", msg.Body)
	}
	if !strings.HasPrefix(msg.Body, "Dear Purchaser,") {
		t.Fatalf("expected generic greeting, got:\n%s", msg.Body)
	}
}

func TestGenerateChaseMissingContact(t *testing.T) {
	rec := domain.PipelineRecord{UnitID: "u9", ContractsIssuedDate: tsAgo(40)}
	msg, err := GenerateChase(rec, ChaseContracts, "Unit 9", "Rathard Park", testNow)
	var missing MissingContactError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingContactError, got %v", err)
	}
	if missing.UnitID != "u9" {
		t.Fatalf("expected unit u9, got %s", missing.UnitID)
	}
	if msg != (domain.ChaseMessage{}) {
		t.Fatalf("expected no partial message, got %+v", msg)
	}
}

func TestGenerateChaseReferenceDates(t *testing.T) {
	rec := domain.PipelineRecord{
		UnitID:              "u1",
		PurchaserEmail:      "p@example.com",
		ContractsIssuedDate: tsAgo(40),
		SignedContractsDate: tsAgo(21),
		DrawdownDate:        tsAgo(9),
		HandoverDate:        tsAgo(3),
	}
	cases := []struct {
		stage string
		days  int
	}{
		{ChaseContracts, 40},
		{ChaseKitchen, 21},
		{ChaseSnag, 3},
		{ChaseDesnag, 9},
	}
	for _, tc := range cases {
		msg, err := GenerateChase(rec, tc.stage, "Unit 1", "Rathard Park", testNow)
		if err != nil {
			t.Fatalf("%s: %v", tc.stage, err)
		}
		if msg.DaysPending != tc.days {
			t.Fatalf("%s: expected %d days pending, got %d", tc.stage, tc.days, msg.DaysPending)
		}
	}
}

func TestGenerateChaseMissingReferenceDefaultsToZero(t *testing.T) {
	rec := domain.PipelineRecord{UnitID: "u1", PurchaserEmail: "p@example.com"}
	msg, err := GenerateChase(rec, ChaseKitchen, "Unit 1", "Rathard Park", testNow)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if msg.DaysPending != 0 {
		t.Fatalf("expected 0 days pending, got %d", msg.DaysPending)
	}
}

func TestGenerateChaseUnknownStageUsesDefaultTemplate(t *testing.T) {
	rec := domain.PipelineRecord{UnitID: "u1", PurchaserEmail: "p@example.com"}
	msg, err := GenerateChase(rec, "handover", "Unit 1", "Rathard Park", testNow)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(msg.Body, "gentle reminder regarding your purchase") {
		t.Fatalf("expected default template, got:\n%s", msg.Body)
	}
	if msg.Subject != "Action Required: Handover - Unit 1" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
}

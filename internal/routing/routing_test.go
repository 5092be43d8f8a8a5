package routing_test

import (
	"testing"

	"civicline/internal/domain"
	"civicline/internal/routing"
)

func strptr(s string) *string { return &s }

func rule(id string, keywords []string, priority int, dept string, createdAt string) domain.TaskRule {
	r := domain.TaskRule{
		ID:        id,
		Name:      id,
		Keywords:  keywords,
		Priority:  priority,
		IsActive:  true,
		CreatedAt: createdAt,
	}
	if dept != "" {
		r.DepartmentID = strptr(dept)
	}
	return r
}

func TestRouteMatchesKeyword(t *testing.T) {
	rules := []domain.TaskRule{
		rule("r1", []string{"ит", "принтер"}, 1, "dept-3", "2024-01-01T00:00:00Z"),
		rule("r2", []string{"закон"}, 2, "dept-5", "2024-01-02T00:00:00Z"),
	}
	req := domain.CitizenRequest{Subject: "Проблема с принтером"}
	d, warnings := routing.Route(req, rules)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if !d.Assigned || d.DepartmentID != "dept-3" || d.RuleID != "r1" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	rules := []domain.TaskRule{
		rule("r1", []string{"вода"}, 1, "dept-1", "2024-01-01T00:00:00Z"),
		rule("r2", []string{"вода"}, 3, "dept-2", "2024-01-02T00:00:00Z"),
		rule("r3", []string{"вода"}, 3, "dept-3", "2024-01-03T00:00:00Z"),
	}
	req := domain.CitizenRequest{Subject: "Нет воды", Description: "вода отключена"}
	first, _ := routing.Route(req, rules)
	for i := 0; i < 10; i++ {
		d, _ := routing.Route(req, rules)
		if d != first {
			t.Fatalf("decision changed between runs: %+v vs %+v", first, d)
		}
	}
	// priority 3 tie breaks to the earlier created rule
	if first.RuleID != "r2" || first.DepartmentID != "dept-2" {
		t.Fatalf("unexpected winner: %+v", first)
	}
}

func TestRouteTieBreakByID(t *testing.T) {
	created := "2024-01-01T00:00:00Z"
	rules := []domain.TaskRule{
		rule("b", []string{"свет"}, 2, "dept-b", created),
		rule("a", []string{"свет"}, 2, "dept-a", created),
	}
	d, _ := routing.Route(domain.CitizenRequest{Subject: "свет"}, rules)
	if d.RuleID != "a" {
		t.Fatalf("expected smallest id to win, got %s", d.RuleID)
	}
}

func TestRouteIgnoresInactiveRules(t *testing.T) {
	inactive := rule("r1", []string{"дорога"}, 10, "dept-1", "2024-01-01T00:00:00Z")
	inactive.IsActive = false
	rules := []domain.TaskRule{
		inactive,
		rule("r2", []string{"дорога"}, 1, "dept-2", "2024-01-02T00:00:00Z"),
	}
	d, _ := routing.Route(domain.CitizenRequest{Subject: "яма на дороге"}, rules)
	if d.RuleID != "r2" {
		t.Fatalf("inactive rule selected: %+v", d)
	}
}

func TestRouteNoMatchIsUnassigned(t *testing.T) {
	rules := []domain.TaskRule{
		rule("r1", []string{"закон"}, 1, "dept-1", "2024-01-01T00:00:00Z"),
	}
	d, warnings := routing.Route(domain.CitizenRequest{Subject: "прошу справку"}, rules)
	if d.Assigned {
		t.Fatalf("expected unassigned decision, got %+v", d)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
}

func TestRouteSkipsMalformedRule(t *testing.T) {
	broken := rule("r1", []string{"принтер"}, 10, "", "2024-01-01T00:00:00Z")
	rules := []domain.TaskRule{
		broken,
		rule("r2", []string{"принтер"}, 1, "dept-2", "2024-01-02T00:00:00Z"),
	}
	d, warnings := routing.Route(domain.CitizenRequest{Subject: "сломался принтер"}, rules)
	if len(warnings) != 1 || warnings[0].RuleID != "r1" {
		t.Fatalf("expected one warning for r1, got %v", warnings)
	}
	if !d.Assigned || d.RuleID != "r2" {
		t.Fatalf("malformed rule blocked routing: %+v", d)
	}
}

func TestRouteCaseInsensitive(t *testing.T) {
	rules := []domain.TaskRule{
		rule("r1", []string{"ПРИНТЕР"}, 1, "dept-1", "2024-01-01T00:00:00Z"),
	}
	d, _ := routing.Route(domain.CitizenRequest{Subject: "принтер не печатает"}, rules)
	if !d.Assigned {
		t.Fatalf("expected case-insensitive match")
	}
}

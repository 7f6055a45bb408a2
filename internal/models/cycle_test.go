package models

import (
	"testing"
)

func TestScheduleOrderly(t *testing.T) {
	candidates := []string{"c0", "c1", "c2"}
	schedule, err := Schedule(candidates, 4, PolicyOrderly)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	want := []string{"c0", "c1", "c2", "c0"}
	for i, m := range want {
		if schedule[i] != m {
			t.Errorf("attempt %d: got %s, want %s", i+1, schedule[i], m)
		}
	}
}

func TestScheduleCicadaDeterministic(t *testing.T) {
	candidates := []string{"a", "b", "c", "d", "e"}

	first, err := Schedule(candidates, 20, PolicyCicada)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	second, err := Schedule(candidates, 20, PolicyCicada)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cicada schedule not deterministic at index %d: %s vs %s", i, first[i], second[i])
		}
	}

	// The first position is (0 * 2) % 233 = 0, so attempt 1 always uses the
	// cheapest candidate.
	if first[0] != "a" {
		t.Errorf("cicada attempt 1: got %s, want a", first[0])
	}
}

func TestScheduleCicadaProbesBeyondFront(t *testing.T) {
	candidates := []string{"a", "b", "c", "d", "e", "f", "g"}
	schedule, err := Schedule(candidates, 30, PolicyCicada)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	seen := map[string]bool{}
	for _, m := range schedule {
		seen[m] = true
	}
	if len(seen) < 2 {
		t.Errorf("cicada schedule never left the front of the list: %v", schedule)
	}
}

func TestScheduleRandomAvoidsImmediateRepeat(t *testing.T) {
	candidates := []string{"a", "b", "c"}
	schedule, err := Schedule(candidates, 50, PolicyRandom)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	for i := 1; i < len(schedule); i++ {
		if schedule[i] == schedule[i-1] {
			t.Fatalf("random schedule repeated %s at index %d", schedule[i], i)
		}
	}
}

func TestScheduleErrors(t *testing.T) {
	if _, err := Schedule(nil, 5, PolicyOrderly); err == nil {
		t.Error("expected error for empty candidate list")
	}
	if _, err := Schedule([]string{"a"}, 0, PolicyOrderly); err == nil {
		t.Error("expected error for zero retries")
	}
	if _, err := Schedule([]string{"a"}, 5, Policy("spiral")); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestAtWrapsSchedule(t *testing.T) {
	schedule := []string{"a", "b"}
	if got := At(schedule, 0); got != "a" {
		t.Errorf("At(0) = %s, want a", got)
	}
	if got := At(schedule, 3); got != "b" {
		t.Errorf("At(3) = %s, want b", got)
	}
	if got := At(nil, 0); got != "" {
		t.Errorf("At on empty schedule = %q, want empty", got)
	}
}

func TestAtOffsetRotatesJudgeModels(t *testing.T) {
	schedule := []string{"j0", "j1", "j2"}
	if got := AtOffset(schedule, 0, 0); got != "j0" {
		t.Errorf("offset 0: got %s, want j0", got)
	}
	if got := AtOffset(schedule, 0, 1); got != "j1" {
		t.Errorf("offset 1: got %s, want j1", got)
	}
	if got := AtOffset(schedule, 2, 2); got != "j1" {
		t.Errorf("attempt 2 offset 2: got %s, want j1", got)
	}
}

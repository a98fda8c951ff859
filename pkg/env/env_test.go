package env

import "testing"

func TestGetTrimsAndFallsBack(t *testing.T) {
	t.Setenv("FIELDOPS_TEST_VALUE", "  ")
	if got := Get("FIELDOPS_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("blank values fall back, got %q", got)
	}
	t.Setenv("FIELDOPS_TEST_VALUE", " set ")
	if got := Get("FIELDOPS_TEST_VALUE", "fallback"); got != "set" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestFirst(t *testing.T) {
	t.Setenv("FIELDOPS_A", "")
	t.Setenv("FIELDOPS_B", "b")
	if got := First("none", "FIELDOPS_A", "FIELDOPS_B"); got != "b" {
		t.Fatalf("unexpected %q", got)
	}
	if got := First("none", "FIELDOPS_A"); got != "none" {
		t.Fatalf("unexpected %q", got)
	}
}

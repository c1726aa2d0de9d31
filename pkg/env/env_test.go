package env

import "testing"

func TestGetFallsBackOnBlank(t *testing.T) {
	t.Setenv("CONFOPS_TEST_VALUE", "   ")
	if got := Get("CONFOPS_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("CONFOPS_TEST_VALUE", "console")
	if got := Get("CONFOPS_TEST_VALUE", "json"); got != "console" {
		t.Fatalf("expected console, got %q", got)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("CONFOPS_TEST_FLAG", "Yes")
	if !Bool("CONFOPS_TEST_FLAG") {
		t.Fatalf("expected truthy flag")
	}
	t.Setenv("CONFOPS_TEST_FLAG", "0")
	if Bool("CONFOPS_TEST_FLAG") {
		t.Fatalf("expected falsy flag")
	}
}

package deeplink

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want string
	}{
		{name: "reply with alert", in: Input{Type: "reply", Role: "chair", AlertID: "42"}, want: "/chair?alert=42"},
		{name: "reply without alert falls back home", in: Input{Type: "reply", Role: "press"}, want: "/press"},
		{name: "timer ignores role", in: Input{Type: "timer", Role: "press"}, want: "/timer"},
		{name: "timer without role", in: Input{Type: "timer"}, want: "/timer"},
		{name: "attendance is role scoped", in: Input{Type: "attendance", Role: "chair"}, want: "/chair/attendance"},
		{name: "file share", in: Input{Type: "file", Role: "admin"}, want: "/file-share"},
		{name: "documents", in: Input{Type: "document"}, want: "/documents"},
		{name: "unknown type goes home", in: Input{Type: "unknown", Role: "chair"}, want: "/chair"},
		{name: "missing role uses last known", in: Input{Type: "unknown", LastKnownRole: "press"}, want: "/press"},
		{name: "missing role and last known uses default", in: Input{Type: "alert"}, want: "/admin"},
		{name: "invalid role uses last known", in: Input{Type: "attendance", Role: "speaker", LastKnownRole: "chair"}, want: "/chair/attendance"},
		{name: "explicit relative url wins", in: Input{Type: "timer", ExplicitURL: "/chair/sessions/7"}, want: "/chair/sessions/7"},
		{name: "explicit absolute url wins", in: Input{Type: "reply", AlertID: "1", ExplicitURL: "https://ops.example.com/press"}, want: "https://ops.example.com/press"},
		{name: "protocol relative url ignored", in: Input{Type: "timer", ExplicitURL: "//evil.example.com"}, want: "/timer"},
		{name: "script url ignored", in: Input{Type: "document", ExplicitURL: "javascript:alert(1)"}, want: "/documents"},
		{name: "alert id is escaped", in: Input{Type: "reply", Role: "chair", AlertID: "a b&c"}, want: "/chair?alert=a+b%26c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.in); got != tt.want {
				t.Fatalf("Resolve(%+v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	in := Input{Type: "reply", Role: "chair", AlertID: "42"}
	first := Resolve(in)
	for i := 0; i < 10; i++ {
		if got := Resolve(in); got != first {
			t.Fatalf("resolve changed between calls: %q vs %q", first, got)
		}
	}
}

func TestAbsolute(t *testing.T) {
	if got := Absolute("https://ops.example.com/", "/timer"); got != "https://ops.example.com/timer" {
		t.Fatalf("unexpected absolute url %q", got)
	}
	if got := Absolute("https://ops.example.com", "https://other.example.com/x"); got != "https://other.example.com/x" {
		t.Fatalf("absolute targets should pass through, got %q", got)
	}
}

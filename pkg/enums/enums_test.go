package enums

import "testing"

func TestParseRoleIsCaseInsensitive(t *testing.T) {
	role, err := ParseRole(" Chair ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role != RoleChair {
		t.Fatalf("expected chair, got %s", role)
	}
	if _, err := ParseRole("speaker"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestAlertEnums(t *testing.T) {
	if !AlertStatusAcknowledged.IsValid() || AlertStatus("closed").IsValid() {
		t.Fatalf("unexpected alert status validity")
	}
	if p, err := ParseAlertPriority("urgent"); err != nil || p != AlertPriorityUrgent {
		t.Fatalf("expected urgent priority, got %s (%v)", p, err)
	}
	if _, err := ParseAlertStatus("unknown"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestPayloadAndPlatformEnums(t *testing.T) {
	if _, err := ParsePayloadType("reply"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if PayloadType("banner").IsValid() {
		t.Fatalf("banner should not be a payload type")
	}
	if !DevicePlatformSafariIOS.IsValid() {
		t.Fatalf("safari_ios should be valid")
	}
	if _, err := ParseDevicePlatform("palm"); err == nil {
		t.Fatalf("expected error for unknown platform")
	}
}

func TestOutboxEnums(t *testing.T) {
	if et, err := ParseOutboxEventType("alert_created"); err != nil || et != EventAlertCreated {
		t.Fatalf("expected alert_created, got %s (%v)", et, err)
	}
	if OutboxEventType("order_created").IsValid() {
		t.Fatalf("order_created should not be an outbox event type")
	}
	if !AggregateAlert.IsValid() {
		t.Fatalf("alert aggregate should be valid")
	}
	if _, err := ParseOutboxAggregateType("store"); err == nil {
		t.Fatalf("expected error for unknown aggregate")
	}
}

func TestDLQReasonsAndErrorText(t *testing.T) {
	if !OutboxDLQReasonNonRetryable.IsValid() || OutboxDLQErrorReason("timeout").IsValid() {
		t.Fatalf("unexpected dead letter reason validity")
	}
	_, err := ParseOutboxEventType("order_created")
	if err == nil || err.Error() != `invalid event type "order_created"` {
		t.Fatalf("unexpected error %v", err)
	}
	all := Roles()
	all[0] = "mutated"
	if Roles()[0] != RoleAdmin {
		t.Fatalf("Roles must return a copy")
	}
}

package audiometer

import "testing"

func TestMeterDisabledPublishesUnavailableWithoutStarting(t *testing.T) {
	m := New(Config{Enabled: false})
	if err := m.Start(); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}
	got := m.Latest()
	if got.Available {
		t.Fatal("expected Available=false when disabled")
	}
	if got.Reason != "disabled" {
		t.Fatalf("Reason = %q, want %q", got.Reason, "disabled")
	}
	m.Stop()
}

func TestMeterStartIsIdempotent(t *testing.T) {
	m := New(Config{Enabled: false})
	if err := m.Start(); err != nil {
		t.Fatalf("first Start() = %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("second Start() = %v, want nil (idempotent)", err)
	}
	m.Stop()
}

func TestMeterLatestBeforeStartIsNotStarted(t *testing.T) {
	m := New(Config{Enabled: true})
	got := m.Latest()
	if got.Available {
		t.Fatal("expected Available=false before Start")
	}
	if got.Reason != "not_started" {
		t.Fatalf("Reason = %q, want %q", got.Reason, "not_started")
	}
}

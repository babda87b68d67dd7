package audiometer

import "testing"

func TestCalibratorDisabledPassesThroughConfiguredThresholds(t *testing.T) {
	c := NewCalibrator(0, 3, 0.01)
	on, off := c.Thresholds(0.5, 0.2)
	if on != 0.5 || off != 0.2 {
		t.Fatalf("disabled calibrator: got (%v,%v), want (0.5,0.2)", on, off)
	}
	if c.Active() {
		t.Fatal("disabled calibrator should not be active")
	}
}

func TestCalibratorAccumulatesAndCompletes(t *testing.T) {
	c := NewCalibrator(1.0, 3, 0.01)
	if !c.Active() {
		t.Fatal("expected calibrator to be active before window elapses")
	}
	c.Observe(0.02, 0.5)
	if !c.Active() {
		t.Fatal("expected calibrator still active mid-window")
	}
	c.Observe(0.02, 0.5)
	if c.Active() {
		t.Fatal("expected calibrator to complete once window has elapsed")
	}
}

func TestCalibratorDerivesThresholdsFromBaseline(t *testing.T) {
	c := NewCalibrator(1.0, 2.0, 0.001)
	c.Observe(0.01, 1.0)
	on, off := c.Thresholds(0.9, 0.9)
	if on != 0.02 {
		t.Fatalf("on = %v, want 0.02 (baseline*factor)", on)
	}
	if off != 0.01 {
		t.Fatalf("off = %v, want 0.01 (on/2)", off)
	}
}

func TestCalibratorFloorsAtAbsMin(t *testing.T) {
	c := NewCalibrator(1.0, 2.0, 0.5)
	c.Observe(0.0, 1.0)
	on, _ := c.Thresholds(0.9, 0.9)
	if on != 0.5 {
		t.Fatalf("on = %v, want abs_min floor 0.5", on)
	}
}

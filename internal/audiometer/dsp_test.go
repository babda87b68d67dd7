package audiometer

import "testing"

func TestBlockFramesFloorsAt256(t *testing.T) {
	if got := BlockFrames(8000, 1); got != 256 {
		t.Fatalf("BlockFrames = %d, want 256", got)
	}
}

func TestBlockFramesComputes(t *testing.T) {
	got := BlockFrames(48000, 20)
	if got != 960 {
		t.Fatalf("BlockFrames(48000,20) = %d, want 960", got)
	}
}

func TestRMSEmptyIsZero(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}
}

func TestRMSConstantSignal(t *testing.T) {
	samples := []float32{0.5, 0.5, 0.5, 0.5}
	if got := RMS(samples); got != 0.5 {
		t.Fatalf("RMS(constant 0.5) = %v, want 0.5", got)
	}
}

func TestDeinterleaveChannel(t *testing.T) {
	interleaved := []float32{1, 2, 3, 4, 5, 6}
	left := DeinterleaveChannel(interleaved, 2, 0)
	right := DeinterleaveChannel(interleaved, 2, 1)
	wantLeft := []float32{1, 3, 5}
	wantRight := []float32{2, 4, 6}
	for i := range wantLeft {
		if left[i] != wantLeft[i] {
			t.Fatalf("left = %v, want %v", left, wantLeft)
		}
		if right[i] != wantRight[i] {
			t.Fatalf("right = %v, want %v", right, wantRight)
		}
	}
}

func TestSmoothingWindowMean(t *testing.T) {
	w := NewSmoothingWindow(3)
	w.Push(1.0)
	w.Push(2.0)
	got := w.Push(3.0)
	if got != 2.0 {
		t.Fatalf("mean after 3 pushes = %v, want 2.0", got)
	}
}

func TestSmoothingWindowEvictsOldest(t *testing.T) {
	w := NewSmoothingWindow(2)
	w.Push(10.0)
	w.Push(20.0)
	got := w.Push(30.0) // evicts 10.0
	want := (20.0 + 30.0) / 2
	if got != want {
		t.Fatalf("mean = %v, want %v", got, want)
	}
}

func TestSchmittTriggerFirstTransitionIsImmediate(t *testing.T) {
	s := NewSchmittTrigger(0.5, 0.2, 300)
	if got := s.Update(0, 0.6); !got {
		t.Fatal("expected immediate on-transition at sample 0")
	}
}

func TestSchmittTriggerRequiresHoldBeforeFlipping(t *testing.T) {
	s := NewSchmittTrigger(0.5, 0.2, 300)
	s.Update(0, 0.6) // turns on at t=0

	if got := s.Update(100, 0.1); got != true {
		t.Fatal("expected state to remain on before hold elapses")
	}
	if got := s.Update(400, 0.1); got != false {
		t.Fatal("expected state to flip off once hold has elapsed")
	}
}

func TestSchmittTriggerIgnoresMidBandValues(t *testing.T) {
	s := NewSchmittTrigger(0.5, 0.2, 0)
	s.Update(0, 0.6)
	if got := s.Update(10, 0.3); got != true {
		t.Fatal("mid-band value between off and on thresholds should not flip state")
	}
}

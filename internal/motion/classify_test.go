package motion

import "testing"

func TestConfidenceInvalidOrderingYieldsZero(t *testing.T) {
	if got := Confidence(0.5, Thresholds{NoMotion: 0.1, LowActivity: 0.1}); got != 0 {
		t.Fatalf("low==no: Confidence = %v, want 0", got)
	}
	if got := Confidence(0.5, Thresholds{NoMotion: 0.2, LowActivity: 0.1}); got != 0 {
		t.Fatalf("low<no: Confidence = %v, want 0", got)
	}
	if got := Confidence(0.5, Thresholds{NoMotion: 0, LowActivity: 0.5}); got != 0 {
		t.Fatalf("no<=0: Confidence = %v, want 0", got)
	}
}

func TestConfidenceBelowNoMotion(t *testing.T) {
	th := Thresholds{NoMotion: 0.1, LowActivity: 0.5}
	got := Confidence(0.0, th)
	if got != 1.0 {
		t.Fatalf("Confidence(0) = %v, want 1.0", got)
	}
	got = Confidence(0.1, th)
	if got != 0.0 {
		t.Fatalf("Confidence(no_thr) = %v, want 0.0", got)
	}
}

func TestConfidenceTriangularPeakMidBand(t *testing.T) {
	th := Thresholds{NoMotion: 0.1, LowActivity: 0.5}
	mid := (th.NoMotion + th.LowActivity) / 2
	got := Confidence(mid, th)
	if got != 1.0 {
		t.Fatalf("Confidence(mid) = %v, want 1.0 (peak)", got)
	}
	// boundary should be ~0
	if got := Confidence(th.NoMotion, th); got != 0 {
		t.Fatalf("Confidence at lower boundary = %v, want 0", got)
	}
}

func TestConfidenceAboveLowActivity(t *testing.T) {
	th := Thresholds{NoMotion: 0.1, LowActivity: 0.5}
	got := Confidence(1.0, th)
	if got != 1.0 {
		t.Fatalf("Confidence(1.0) = %v, want 1.0", got)
	}
	got = Confidence(th.LowActivity, th)
	if got != 0.0 {
		t.Fatalf("Confidence(low_thr) = %v, want 0.0", got)
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve(true, 0.9, 0.5); got != StateNoMotion {
		t.Fatalf("Resolve(noMotion=true) = %v, want StateNoMotion", got)
	}
	if got := Resolve(false, 0.3, 0.5); got != StateLowActivity {
		t.Fatalf("Resolve(ema<low) = %v, want StateLowActivity", got)
	}
	if got := Resolve(false, 0.7, 0.5); got != StateMotion {
		t.Fatalf("Resolve(ema>=low) = %v, want StateMotion", got)
	}
}

func TestAudioLabelSuffix(t *testing.T) {
	if got := AudioLabelSuffix(false, false); got != SuffixNoSoundHardware {
		t.Fatalf("unavailable: got %v, want SuffixNoSoundHardware", got)
	}
	if got := AudioLabelSuffix(true, true); got != SuffixWithAudio {
		t.Fatalf("detected: got %v, want SuffixWithAudio", got)
	}
	if got := AudioLabelSuffix(true, false); got != SuffixNoAudio {
		t.Fatalf("not detected: got %v, want SuffixNoAudio", got)
	}
}

package capture

import (
	"testing"

	"github.com/kvandebeek/motiondetector/internal/region"
)

func TestClampRegion(t *testing.T) {
	cases := []struct {
		name    string
		in      region.Region
		boundW  int
		boundH  int
		want    region.Region
		wantErr bool
	}{
		{
			name:   "fully inside bounds",
			in:     region.Region{X: 10, Y: 10, Width: 100, Height: 50},
			boundW: 1920, boundH: 1080,
			want: region.Region{X: 10, Y: 10, Width: 100, Height: 50},
		},
		{
			name:   "negative origin clamps width",
			in:     region.Region{X: -5, Y: -5, Width: 20, Height: 20},
			boundW: 1920, boundH: 1080,
			want: region.Region{X: 0, Y: 0, Width: 15, Height: 15},
		},
		{
			name:   "overflow past right edge clamps",
			in:     region.Region{X: 1900, Y: 0, Width: 100, Height: 100},
			boundW: 1920, boundH: 1080,
			want: region.Region{X: 1900, Y: 0, Width: 20, Height: 100},
		},
		{
			name:    "clamps to empty rectangle is an error",
			in:      region.Region{X: 5000, Y: 0, Width: 10, Height: 10},
			boundW:  1920, boundH: 1080,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := clampRegion(tc.in, tc.boundW, tc.boundH)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got region %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("clampRegion() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestNewRejectsUnsupportedBackend(t *testing.T) {
	if _, err := New("dxgi"); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

// Package statusstore owns the single piece of cross-goroutine mutable
// state in the process: the latest published status payload, its rolling
// history, the disabled-tile mask, UI settings, quality events, and the
// quit flag. Every exported method takes one internal mutex for an O(1) or
// O(rows*cols) critical section; none of them perform I/O.
package statusstore

// CaptureInfo reports the capture backend's health for the tick that
// produced this payload.
type CaptureInfo struct {
	State   string `json:"state"`
	Reason  string `json:"reason"`
	Backend string `json:"backend"`
}

// GridInfo is the rows x cols partition of the analysis region.
type GridInfo struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// TileIndexed renders one tile as {tile, value}, value being a float or the
// string "disabled", per the mask-aware tile container design note.
type TileIndexed struct {
	Tile  int         `json:"tile"`
	Value interface{} `json:"value"`
}

// VideoInfo is the motion classifier's output for one tick.
type VideoInfo struct {
	State                 string        `json:"state"`
	Confidence            float64       `json:"confidence"`
	MotionMean            float64       `json:"motion_mean"`
	MotionInstantMean     float64       `json:"motion_instant_mean"`
	MotionInstantTop1     float64       `json:"motion_instant_top1"`
	MotionInstantActivity float64       `json:"motion_instant_activity"`
	Grid                  GridInfo      `json:"grid"`
	Tiles                 []*float64    `json:"tiles"`
	TilesIndexed          []TileIndexed `json:"tiles_indexed"`
	DisabledTiles         []int         `json:"disabled_tiles"`
	Stale                 bool          `json:"stale"`
	StaleAgeSec           float64       `json:"stale_age_sec"`
}

// AudioInfo is the latest audio meter sample, annotated into the payload.
type AudioInfo struct {
	Available bool    `json:"available"`
	Left      float64 `json:"left"`
	Right     float64 `json:"right"`
	Detected  bool    `json:"detected"`
	Reason    string  `json:"reason"`
}

// OverallInfo is the coarse OK/NOT_OK summary and its reasons.
type OverallInfo struct {
	State   string   `json:"state"`
	Reasons []string `json:"reasons"`
}

// RegionInfo is the capture rectangle in effect for this payload.
type RegionInfo struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Monitor is one physical display's rectangle, for the UI's monitor picker.
type Monitor struct {
	ID     int `json:"id"`
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// UISettings mirrors the overlay's editable state, injected into payloads
// at read time rather than stored per-sample.
type UISettings struct {
	ShowTileNumbers  bool      `json:"show_tile_numbers"`
	ShowOverlayState bool      `json:"show_overlay_state"`
	GridRows         int       `json:"grid_rows"`
	GridCols         int       `json:"grid_cols"`
	RegionX          int       `json:"region_x"`
	RegionY          int       `json:"region_y"`
	RegionWidth      int       `json:"region_width"`
	RegionHeight     int       `json:"region_height"`
	CurrentState     string    `json:"current_state"`
	Monitors         []Monitor `json:"monitors"`
	CurrentMonitorID int       `json:"current_monitor_id"`
}

// Payload is the full public JSON status contract.
type Payload struct {
	Timestamp float64     `json:"timestamp"`
	Capture   CaptureInfo `json:"capture"`
	Video     VideoInfo   `json:"video"`
	Audio     AudioInfo   `json:"audio"`
	Overall   OverallInfo `json:"overall"`
	Errors    []string    `json:"errors"`
	Region    RegionInfo  `json:"region"`
	UI        UISettings  `json:"ui"`
}

// clonePayload returns a deep-enough copy of p: every slice/map field is
// reallocated so a caller mutating the returned value cannot corrupt the
// store's internal state. Built with explicit field copies rather than a
// marshal/unmarshal round trip to keep the hot read path allocation-cheap
// and type-safe.
func clonePayload(p Payload) Payload {
	out := p
	out.Video.Tiles = cloneTilePtrs(p.Video.Tiles)
	out.Video.TilesIndexed = append([]TileIndexed(nil), p.Video.TilesIndexed...)
	out.Video.DisabledTiles = append([]int(nil), p.Video.DisabledTiles...)
	out.Overall.Reasons = append([]string(nil), p.Overall.Reasons...)
	out.Errors = append([]string(nil), p.Errors...)
	out.UI.Monitors = append([]Monitor(nil), p.UI.Monitors...)
	return out
}

func cloneTilePtrs(in []*float64) []*float64 {
	out := make([]*float64, len(in))
	for i, v := range in {
		if v == nil {
			continue
		}
		cp := *v
		out[i] = &cp
	}
	return out
}

func placeholderPayload(reason string, gridRows, gridCols int) Payload {
	return Payload{
		Capture: CaptureInfo{State: "ERROR", Reason: reason},
		Video: VideoInfo{
			State: "ERROR",
			Grid:  GridInfo{Rows: gridRows, Cols: gridCols},
		},
		Overall: OverallInfo{State: "NOT_OK", Reasons: []string{reason}},
		Errors:  []string{},
	}
}

package statusstore

import (
	"sort"
	"sync"
	"time"
)

const maxQualityEvents = 500

// historyEntry pairs a sample timestamp with the payload recorded at it.
type historyEntry struct {
	at      time.Time
	payload Payload
}

// Store is the single-lock, in-memory owner of the latest status payload,
// its rolling history, the disabled-tile mask, UI settings, quality events,
// and the quit flag. Every method is constant or O(rows*cols) under the
// lock; none perform I/O, so the lock is never held across a blocking call.
type Store struct {
	mu sync.Mutex

	latest        Payload
	history       []historyEntry
	disabledTiles []int

	ui             UISettings
	historySeconds float64

	qualityEvents []map[string]interface{}
	quitRequested bool

	nowFn func() time.Time
}

// Config seeds the store's initial region, grid, and UI defaults.
type Config struct {
	HistorySeconds   float64
	GridRows         int
	GridCols         int
	ShowTileNumbers  bool
	ShowOverlayState bool
	RegionX          int
	RegionY          int
	RegionWidth      int
	RegionHeight     int
	Monitors         []Monitor
}

// New returns a Store seeded with cfg, its latest payload set to a
// schema-correct placeholder reporting "not_initialized".
func New(cfg Config) *Store {
	s := &Store{
		historySeconds: cfg.HistorySeconds,
		ui: UISettings{
			ShowTileNumbers:  cfg.ShowTileNumbers,
			ShowOverlayState: cfg.ShowOverlayState,
			GridRows:         cfg.GridRows,
			GridCols:         cfg.GridCols,
			RegionX:          cfg.RegionX,
			RegionY:          cfg.RegionY,
			RegionWidth:      cfg.RegionWidth,
			RegionHeight:     cfg.RegionHeight,
			CurrentState:     "UNKNOWN",
			Monitors:         append([]Monitor(nil), cfg.Monitors...),
			CurrentMonitorID: 0,
		},
		nowFn: time.Now,
	}
	s.latest = placeholderPayload("not_initialized", cfg.GridRows, cfg.GridCols)
	return s
}

func (s *Store) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

// SetLatest accepts a fully-built payload, appends it to history, and
// replaces the latest snapshot. The derived UI current_state comes from
// video.state, falling back to overall.state, else "UNKNOWN".
func (s *Store) SetLatest(p Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now()
	if p.Timestamp > 0 {
		ts = time.Unix(0, int64(p.Timestamp*float64(time.Second)))
	} else {
		p.Timestamp = float64(ts.UnixNano()) / float64(time.Second)
	}

	s.latest = p
	s.history = append(s.history, historyEntry{at: ts, payload: p})
	s.trimHistoryLocked(ts)

	state := p.Video.State
	if state == "" {
		state = p.Overall.State
	}
	if state == "" {
		state = "UNKNOWN"
	}
	s.ui.CurrentState = state
}

// SetRegion updates the region reflected in UI settings and recomputes
// CurrentMonitorID from the monitor whose rectangle contains the region's
// center point.
func (s *Store) SetRegion(x, y, w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ui.RegionX = x
	s.ui.RegionY = y
	s.ui.RegionWidth = w
	s.ui.RegionHeight = h

	cx, cy := x+w/2, y+h/2
	for _, m := range s.ui.Monitors {
		if cx >= m.Left && cx < m.Left+m.Width && cy >= m.Top && cy < m.Top+m.Height {
			s.ui.CurrentMonitorID = m.ID
			return
		}
	}
}

// SetMonitors replaces the monitor list exposed to the UI.
func (s *Store) SetMonitors(monitors []Monitor) {
	s.mu.Lock()
	s.ui.Monitors = append([]Monitor(nil), monitors...)
	s.mu.Unlock()
}

// GetPayload returns a normalized, deep-enough copy of the latest payload:
// the grid falls back to store defaults if unset, tiles are coerced to
// exactly rows*cols float-or-null entries, the disabled mask is applied,
// tiles_indexed is derived, errors is forced to a non-nil list, and the
// current UI settings are injected.
func (s *Store) GetPayload() Payload {
	s.mu.Lock()
	p := clonePayload(s.latest)
	disabled := append([]int(nil), s.disabledTiles...)
	ui := s.ui
	ui.Monitors = append([]Monitor(nil), s.ui.Monitors...)
	s.mu.Unlock()

	return normalize(p, disabled, ui)
}

func normalize(p Payload, disabled []int, ui UISettings) Payload {
	rows := p.Video.Grid.Rows
	cols := p.Video.Grid.Cols
	if rows < 1 {
		rows = ui.GridRows
	}
	if cols < 1 {
		cols = ui.GridCols
	}
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	p.Video.Grid = GridInfo{Rows: rows, Cols: cols}

	want := rows * cols
	tiles := make([]*float64, want)
	for i := 0; i < want && i < len(p.Video.Tiles); i++ {
		if p.Video.Tiles[i] != nil {
			v := *p.Video.Tiles[i]
			tiles[i] = &v
		}
	}
	for i := len(p.Video.Tiles); i < want; i++ {
		zero := 0.0
		tiles[i] = &zero
	}

	validDisabled := make([]int, 0, len(disabled))
	for _, idx := range disabled {
		if idx >= 0 && idx < want {
			tiles[idx] = nil
			validDisabled = append(validDisabled, idx)
		}
	}
	p.Video.DisabledTiles = validDisabled

	indexed := make([]TileIndexed, want)
	for i, v := range tiles {
		if v == nil {
			indexed[i] = TileIndexed{Tile: i, Value: "disabled"}
		} else {
			indexed[i] = TileIndexed{Tile: i, Value: *v}
		}
	}
	p.Video.Tiles = tiles
	p.Video.TilesIndexed = indexed

	if p.Errors == nil {
		p.Errors = []string{}
	}
	if p.Overall.Reasons == nil {
		p.Overall.Reasons = []string{}
	}

	p.UI = ui
	return p
}

// GetHistory returns the payloads currently within historySeconds of now,
// oldest first.
func (s *Store) GetHistory() []Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trimHistoryLocked(s.now())
	out := make([]Payload, len(s.history))
	for i, e := range s.history {
		out[i] = clonePayload(e.payload)
	}
	return out
}

// GetPayloadHistory is GetHistory with the current UI block injected into
// every entry, normalized the same way GetPayload is.
func (s *Store) GetPayloadHistory() []Payload {
	s.mu.Lock()
	s.trimHistoryLocked(s.now())
	entries := make([]historyEntry, len(s.history))
	copy(entries, s.history)
	disabled := append([]int(nil), s.disabledTiles...)
	ui := s.ui
	ui.Monitors = append([]Monitor(nil), s.ui.Monitors...)
	s.mu.Unlock()

	out := make([]Payload, len(entries))
	for i, e := range entries {
		out[i] = normalize(clonePayload(e.payload), disabled, ui)
	}
	return out
}

// trimHistoryLocked drops entries older than historySeconds before "at".
// Caller must hold s.mu.
func (s *Store) trimHistoryLocked(at time.Time) {
	if s.historySeconds <= 0 {
		return
	}
	cutoff := at.Add(-time.Duration(s.historySeconds * float64(time.Second)))
	i := 0
	for i < len(s.history) && s.history[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.history = append([]historyEntry(nil), s.history[i:]...)
	}
}

// SetHistorySeconds updates the rolling history window, trimming any
// now-stale entries immediately.
func (s *Store) SetHistorySeconds(seconds float64) {
	s.mu.Lock()
	s.historySeconds = seconds
	s.trimHistoryLocked(s.now())
	s.mu.Unlock()
}

// SetDisabledTiles replaces the disabled-tile mask, keeping non-negative
// indices, de-duplicated and sorted ascending.
func (s *Store) SetDisabledTiles(tiles []int) {
	seen := make(map[int]struct{}, len(tiles))
	out := make([]int, 0, len(tiles))
	for _, t := range tiles {
		if t < 0 {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Ints(out)

	s.mu.Lock()
	s.disabledTiles = out
	s.mu.Unlock()
}

// GetDisabledTiles returns the current sorted, de-duplicated mask.
func (s *Store) GetDisabledTiles() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.disabledTiles...)
}

// SetGrid updates the rows/cols reflected in UI settings. rows and cols
// must each be >=1; callers validate this before calling.
func (s *Store) SetGrid(rows, cols int) {
	s.mu.Lock()
	s.ui.GridRows = rows
	s.ui.GridCols = cols
	s.mu.Unlock()
}

// GetGrid returns the current rows/cols partition.
func (s *Store) GetGrid() (rows, cols int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ui.GridRows, s.ui.GridCols
}

// SetTileNumbers updates the overlay's tile-number toggle.
func (s *Store) SetTileNumbers(enabled bool) {
	s.mu.Lock()
	s.ui.ShowTileNumbers = enabled
	s.mu.Unlock()
}

// SetOverlayState updates the overlay's state-label toggle.
func (s *Store) SetOverlayState(enabled bool) {
	s.mu.Lock()
	s.ui.ShowOverlayState = enabled
	s.mu.Unlock()
}

// GetUISettings returns a copy of the current UI settings block.
func (s *Store) GetUISettings() UISettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	ui := s.ui
	ui.Monitors = append([]Monitor(nil), s.ui.Monitors...)
	return ui
}

// RequestQuit sets the monotonic quit flag. Idempotent.
func (s *Store) RequestQuit() {
	s.mu.Lock()
	s.quitRequested = true
	s.mu.Unlock()
}

// QuitRequested reports whether RequestQuit has ever been called.
func (s *Store) QuitRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quitRequested
}

// AddQualityEvent appends e to the bounded quality-event log, dropping the
// oldest entry once the log reaches its cap.
func (s *Store) AddQualityEvent(e map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qualityEvents = append(s.qualityEvents, e)
	if len(s.qualityEvents) > maxQualityEvents {
		s.qualityEvents = s.qualityEvents[len(s.qualityEvents)-maxQualityEvents:]
	}
}

// GetQualityEvents returns a copy of the bounded quality-event log.
func (s *Store) GetQualityEvents() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.qualityEvents...)
}

package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvandebeek/motiondetector/internal/region"
	"github.com/kvandebeek/motiondetector/internal/statusstore"
)

func newTestServer(t *testing.T) (*Server, *statusstore.Store, *region.Handle) {
	t.Helper()
	store := statusstore.New(statusstore.Config{
		HistorySeconds: 60,
		GridRows:       3,
		GridCols:       3,
		RegionX:        0, RegionY: 0, RegionWidth: 640, RegionHeight: 480,
		Monitors: []statusstore.Monitor{{ID: 0, Width: 1920, Height: 1080}},
	})
	handle := region.NewHandle(region.Region{X: 0, Y: 0, Width: 640, Height: 480})
	srv := New(Config{Host: "127.0.0.1", Port: 0, ClipsDir: t.TempDir(), HistorySeconds: 60}, store, handle)
	return srv, store, handle
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, req)
	return rec
}

func TestStatusReturnsSchemaValidPlaceholder(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var p map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))

	video := p["video"].(map[string]interface{})
	assert.Equal(t, "ERROR", video["state"])
	assert.Len(t, video["tiles"], 9)
	assert.NotNil(t, p["errors"])
	assert.NotNil(t, p["ui"])
}

func TestPutTilesNormalizesAndEchoes(t *testing.T) {
	srv, store, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPut, "/tiles", `{"disabled_tiles":[4,1,4,-3,1]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		DisabledTiles []int `json:"disabled_tiles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []int{1, 4}, resp.DisabledTiles)
	assert.Equal(t, []int{1, 4}, store.GetDisabledTiles())

	rec = doJSON(t, srv, http.MethodGet, "/tiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []int{1, 4}, resp.DisabledTiles)
}

func TestPutTilesRejectsMalformedBodies(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, body := range []string{
		`{"disabled_tiles":"nope"}`,
		`{"disabled_tiles":[1.5]}`,
		`{"disabled_tiles":[true]}`,
		`{"disabled_tiles":{"a":1}}`,
		`not json`,
	} {
		rec := doJSON(t, srv, http.MethodPut, "/tiles", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["error"])
	}
}

func TestGridUpdateAndValidation(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/ui/grid", `{"rows":4,"cols":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	ui := store.GetUISettings()
	assert.Equal(t, 4, ui.GridRows)
	assert.Equal(t, 5, ui.GridCols)

	for _, body := range []string{
		`{"rows":0,"cols":3}`,
		`{"rows":3}`,
		`{"rows":2.5,"cols":3}`,
		`{"rows":"3","cols":3}`,
	} {
		rec := doJSON(t, srv, http.MethodPost, "/ui/grid", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestRegionUpdateWritesHandleAndStore(t *testing.T) {
	srv, store, handle := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/ui/region", `{"x":10,"y":20,"width":300,"height":200}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, region.Region{X: 10, Y: 20, Width: 300, Height: 200}, handle.Snapshot())
	ui := store.GetUISettings()
	assert.Equal(t, 10, ui.RegionX)
	assert.Equal(t, 300, ui.RegionWidth)

	rec = doJSON(t, srv, http.MethodPost, "/ui/region", `{"x":0,"y":0,"width":0,"height":10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTileNumbersResponseMergesUI(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/ui/tile-numbers", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["enabled"])
	assert.Contains(t, resp, "grid_rows")
	assert.True(t, store.GetUISettings().ShowTileNumbers)

	rec = doJSON(t, srv, http.MethodPost, "/ui/tile-numbers", `{"enabled":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStateOverlayToggle(t *testing.T) {
	srv, store, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/ui/state-overlay", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, store.GetUISettings().ShowOverlayState)
}

func TestQuitSetsStoreFlag(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/quit", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["ok"])
	assert.True(t, store.QuitRequested())
}

func TestIndexSubstitutesHistorySeconds(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "last 60 s")
	assert.NotContains(t, rec.Body.String(), "{{HISTORY_SECONDS}}")
}

func TestHistoryWrapsPayloads(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.SetLatest(statusstore.Payload{
		Video: statusstore.VideoInfo{State: "MOTION", Grid: statusstore.GridInfo{Rows: 3, Cols: 3}},
	})

	rec := doJSON(t, srv, http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		History []map[string]interface{} `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.History, 1)
	assert.Contains(t, resp.History[0], "ui")
}

func TestQualityClipsListsRecordedFiles(t *testing.T) {
	srv, _, _ := newTestServer(t)

	require.NoError(t, os.WriteFile(filepath.Join(srv.clipsDir, "nomotion_20260802_120000.mp4"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srv.clipsDir, "nomotion_20260802_120500.avi"), []byte("xy"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srv.clipsDir, "unrelated.txt"), []byte("x"), 0o644))

	rec := doJSON(t, srv, http.MethodGet, "/quality/clips", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Clips []clipEntry `json:"clips"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Clips, 2)
	assert.Equal(t, "nomotion_20260802_120000.mp4", resp.Clips[0].Filename)
	assert.Equal(t, "/clips/nomotion_20260802_120000.mp4", resp.Clips[0].URL)
	assert.Equal(t, int64(1), resp.Clips[0].SizeBytes)
}

func TestQualityEventsDefaultsToEmptyList(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/quality/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[]}`, rec.Body.String())

	store.AddQualityEvent(map[string]interface{}{"kind": "encoder_fallback"})
	rec = doJSON(t, srv, http.MethodGet, "/quality/events", "")
	var resp struct {
		Events []map[string]interface{} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "encoder_fallback", resp.Events[0]["kind"])
}

package httpserver

import (
	"encoding/json"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kvandebeek/motiondetector/internal/logging"
	"github.com/kvandebeek/motiondetector/internal/region"
	"github.com/kvandebeek/motiondetector/internal/statusstore"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response failed", logging.KeyError, err)
	}
}

func (s *Server) writeClientError(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// decodeBody decodes the request body into a generic map so handlers can run
// the explicit type checks the API contract requires, instead of letting a
// struct decode silently coerce or zero-fill malformed fields.
func decodeBody(r *http.Request) (map[string]interface{}, error) {
	var body map[string]interface{}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

// intField extracts an integral JSON number. Booleans, strings, and numbers
// with a fractional part are all rejected.
func intField(body map[string]interface{}, key string) (int, bool) {
	raw, ok := body[key]
	if !ok {
		return 0, false
	}
	f, ok := raw.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func boolField(body map[string]interface{}, key string) (bool, bool) {
	raw, ok := body[key]
	if !ok {
		return false, false
	}
	b, ok := raw.(bool)
	return b, ok
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := strings.ReplaceAll(indexHTML,
		"{{HISTORY_SECONDS}}",
		strconv.FormatFloat(s.historySeconds, 'f', -1, 64))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.GetPayload())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": s.store.GetPayloadHistory(),
	})
}

func (s *Server) handleGetTiles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"disabled_tiles": s.store.GetDisabledTiles(),
	})
}

func (s *Server) handlePutTiles(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeClientError(w, "invalid JSON body")
		return
	}
	raw, ok := body["disabled_tiles"].([]interface{})
	if !ok {
		s.writeClientError(w, "disabled_tiles must be a list of integers")
		return
	}
	tiles := make([]int, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			s.writeClientError(w, "disabled_tiles must be a list of integers")
			return
		}
		tiles = append(tiles, int(f))
	}

	s.store.SetDisabledTiles(tiles)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"disabled_tiles": s.store.GetDisabledTiles(),
	})
}

func (s *Server) handleGetUI(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.GetUISettings())
}

// tileNumbersResponse flattens the toggled value into the UI block.
type tileNumbersResponse struct {
	Enabled bool `json:"enabled"`
	statusstore.UISettings
}

func (s *Server) handleTileNumbers(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeClientError(w, "invalid JSON body")
		return
	}
	enabled, ok := boolField(body, "enabled")
	if !ok {
		s.writeClientError(w, "enabled must be a boolean")
		return
	}
	s.store.SetTileNumbers(enabled)
	s.writeJSON(w, http.StatusOK, tileNumbersResponse{Enabled: enabled, UISettings: s.store.GetUISettings()})
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeClientError(w, "invalid JSON body")
		return
	}
	rows, okR := intField(body, "rows")
	cols, okC := intField(body, "cols")
	if !okR || !okC || rows < 1 || cols < 1 {
		s.writeClientError(w, "rows and cols must be integers >= 1")
		return
	}
	s.store.SetGrid(rows, cols)
	s.writeJSON(w, http.StatusOK, s.store.GetUISettings())
}

func (s *Server) handleStateOverlay(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeClientError(w, "invalid JSON body")
		return
	}
	enabled, ok := boolField(body, "enabled")
	if !ok {
		s.writeClientError(w, "enabled must be a boolean")
		return
	}
	s.store.SetOverlayState(enabled)
	s.writeJSON(w, http.StatusOK, s.store.GetUISettings())
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeClientError(w, "invalid JSON body")
		return
	}
	x, okX := intField(body, "x")
	y, okY := intField(body, "y")
	width, okW := intField(body, "width")
	height, okH := intField(body, "height")
	if !okX || !okY || !okW || !okH || width < 1 || height < 1 {
		s.writeClientError(w, "x, y, width, height must be integers with width, height >= 1")
		return
	}

	s.region.Set(region.Region{X: x, Y: y, Width: width, Height: height})
	s.store.SetRegion(x, y, width, height)
	s.writeJSON(w, http.StatusOK, s.store.GetUISettings())
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	s.store.RequestQuit()
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleQualityEvents(w http.ResponseWriter, r *http.Request) {
	events := s.store.GetQualityEvents()
	if events == nil {
		events = []map[string]interface{}{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// clipEntry is one recorded clip exposed by GET /quality/clips.
type clipEntry struct {
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes"`
}

func (s *Server) handleQualityClips(w http.ResponseWriter, r *http.Request) {
	clips := []clipEntry{}
	entries, err := os.ReadDir(s.clipsDir)
	if err != nil && !os.IsNotExist(err) {
		s.log.Warn("list clips failed", logging.KeyError, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if !strings.HasPrefix(name, "nomotion_") || (ext != ".mp4" && ext != ".avi") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		clips = append(clips, clipEntry{
			Filename:  name,
			URL:       "/clips/" + name,
			SizeBytes: info.Size(),
		})
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].Filename < clips[j].Filename })
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"clips": clips})
}

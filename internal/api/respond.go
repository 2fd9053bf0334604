package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer body.Close()
	return json.NewDecoder(body).Decode(v)
}

// sinceParam reads the ?since= cursor. Missing or invalid values mean the
// beginning of time; invalid ones are logged so a client stuck re-reading
// its history is visible.
func (s *Server) sinceParam(r *http.Request) time.Time {
	raw := r.URL.Query().Get("since")
	ts, ok := parseSince(raw)
	if !ok {
		s.logger.Debug("ignoring unparseable since cursor",
			"request_id", requestID(r),
			"path", r.URL.Path,
			"since", raw)
	}
	return ts
}

// parseSince accepts RFC 3339 or epoch milliseconds. An offset whose "+"
// arrived unescaped as a space is repaired. Empty input is valid.
func parseSince(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, true
	}
	if i := strings.LastIndexByte(raw, ' '); i > 0 {
		if ts, err := time.Parse(time.RFC3339Nano, raw[:i]+"+"+raw[i+1:]); err == nil {
			return ts, true
		}
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

func queryInt(r *http.Request, key string, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// Package handler implements the operator HTTP endpoints.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// writeJSON writes v with status, falling back to a plain 500 when v does
// not marshal.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit (default 50, max 500), offset and since
// (RFC 3339) from the query string.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, errBadParam("limit")
		}
		opts.Limit = min(n, 500)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errBadParam("offset")
		}
		opts.Offset = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, errBadParam("since")
		}
		opts.Since = &t
	}
	return opts, nil
}

type errBadParam string

func (e errBadParam) Error() string { return "invalid query parameter " + string(e) }

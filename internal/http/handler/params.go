package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"logbook/internal/pagination"
)

func idParam(r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func queryUint(r *http.Request, name string) (uint64, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(v, 10, 64)
	return id, err == nil
}

func queryInt(r *http.Request, name string) int {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func pageParams(r *http.Request) pagination.Params {
	return pagination.Params{Page: queryInt(r, "page"), Limit: queryInt(r, "limit")}
}

func queryList(r *http.Request, name string) []string {
	var out []string
	for _, raw := range r.URL.Query()[name] {
		for _, v := range strings.Split(raw, ",") {
			v = strings.TrimSpace(v)
			if v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func queryUintList(r *http.Request, name string) ([]uint64, bool) {
	var out []uint64
	for _, v := range queryList(r, name) {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, id)
	}
	return out, true
}

// parseTime accepts RFC3339 or a bare date. A bare date used as a range end
// covers the whole day so date-only ranges stay inclusive.
func parseTime(s string, endOfDay bool) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, true
}

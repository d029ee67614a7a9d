package handler

import (
	"net/http"

	"logbook/internal/event"
)

type SearchHandler struct {
	Events *event.Service
}

// Search composes all filters with AND; see event.SearchQuery.
// ?query=&tags=&tagIds=&users=&types=&startDate=&endDate=&page=&limit=&sortBy=&sortOrder=
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := event.SearchQuery{
		Query:     r.URL.Query().Get("query"),
		TagNames:  queryList(r, "tags"),
		Page:      queryInt(r, "page"),
		Limit:     queryInt(r, "limit"),
		SortBy:    r.URL.Query().Get("sortBy"),
		SortOrder: r.URL.Query().Get("sortOrder"),
	}

	tagIDs, ok := queryUintList(r, "tagIds")
	if !ok {
		writeBadRequest(w, "tagIds must be numeric")
		return
	}
	q.TagIDs = tagIDs

	userIDs, ok := queryUintList(r, "users")
	if !ok {
		writeBadRequest(w, "users must be numeric")
		return
	}
	q.UserIDs = userIDs

	for _, t := range queryList(r, "types") {
		q.Types = append(q.Types, event.Type(t))
	}

	if v := r.URL.Query().Get("startDate"); v != "" {
		t, ok := parseTime(v, false)
		if !ok {
			writeBadRequest(w, "startDate must be RFC3339 or YYYY-MM-DD")
			return
		}
		q.StartDate = &t
	}
	if v := r.URL.Query().Get("endDate"); v != "" {
		t, ok := parseTime(v, true)
		if !ok {
			writeBadRequest(w, "endDate must be RFC3339 or YYYY-MM-DD")
			return
		}
		q.EndDate = &t
	}

	hits, pg, err := h.Events.Search(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": hits, "pagination": pg})
}

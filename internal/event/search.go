package event

import (
	"context"
	"fmt"
	"strings"
	"time"

	"logbook/internal/pagination"
	"logbook/internal/tag"
)

// SearchQuery composes optional filters; every filter present is AND-ed,
// absent filters impose no constraint. Within the free-text query, terms
// are OR-ed and matched case-insensitively against title and content.
type SearchQuery struct {
	Query    string
	TagIDs   []uint64
	TagNames []string
	// UserIDs match the creator or any assignee.
	UserIDs   []uint64
	Types     []Type
	StartDate *time.Time
	EndDate   *time.Time

	Page  int
	Limit int

	SortBy    string // timestamp | createdAt | updatedAt
	SortOrder string // asc | desc
}

// SearchHit annotates an event with the query terms found in its title or
// content. Highlighting spans are a presentation concern; callers re-match
// client-side if they need offsets.
type SearchHit struct {
	Event
	MatchedTerms []string `json:"matchedTerms,omitempty"`
}

var sortColumns = map[string]string{
	"timestamp":  "events.timestamp",
	"createdat":  "events.created_at",
	"created_at": "events.created_at",
	"updatedat":  "events.updated_at",
	"updated_at": "events.updated_at",
}

func (s *Service) Search(ctx context.Context, q SearchQuery) ([]SearchHit, pagination.Pagination, error) {
	p := pagination.Params{Page: q.Page, Limit: q.Limit}.Normalized()

	orderBy, err := resolveSort(q.SortBy, q.SortOrder)
	if err != nil {
		return nil, pagination.Pagination{}, err
	}

	db := s.DB.WithContext(ctx).Model(&Event{})

	terms := strings.Fields(strings.TrimSpace(q.Query))
	if len(terms) > 0 {
		conds := make([]string, 0, len(terms)*2)
		args := make([]any, 0, len(terms)*2)
		for _, t := range terms {
			like := "%" + strings.ToLower(t) + "%"
			conds = append(conds, "lower(events.title) LIKE ?", "lower(events.content) LIKE ?")
			args = append(args, like, like)
		}
		db = db.Where(strings.Join(conds, " OR "), args...)
	}

	tagIDs := uniqueIDs(q.TagIDs)
	if len(q.TagNames) > 0 {
		var named []uint64
		if err := s.DB.WithContext(ctx).Model(&tag.Tag{}).
			Where("name IN ?", q.TagNames).Pluck("id", &named).Error; err != nil {
			return nil, pagination.Pagination{}, err
		}
		tagIDs = uniqueIDs(append(tagIDs, named...))
	}
	if len(q.TagIDs) > 0 || len(q.TagNames) > 0 {
		if len(tagIDs) == 0 {
			// tag filter present but nothing resolves: no event can match
			return []SearchHit{}, pagination.Build(p, 0), nil
		}
		db = db.Where("events.id IN (select event_id from event_tags where tag_id IN ?)", tagIDs)
	}

	if len(q.UserIDs) > 0 {
		ids := uniqueIDs(q.UserIDs)
		db = db.Where(
			"events.creator_id IN ? OR events.id IN (select event_id from event_assignments where user_id IN ?)",
			ids, ids,
		)
	}

	if len(q.Types) > 0 {
		for _, t := range q.Types {
			if !t.Valid() {
				return nil, pagination.Pagination{}, fmt.Errorf("%w: unknown event type %q", ErrValidation, t)
			}
		}
		db = db.Where("events.type IN ?", q.Types)
	}

	if q.StartDate != nil {
		db = db.Where("events.timestamp >= ?", *q.StartDate)
	}
	if q.EndDate != nil {
		db = db.Where("events.timestamp <= ?", *q.EndDate)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, pagination.Pagination{}, err
	}

	var events []Event
	err = db.
		Preload("Creator").Preload("AssignedUsers").Preload("Tags").Preload("Attachments").
		Order(orderBy + ", events.id desc").
		Offset(p.Offset()).Limit(p.Limit).
		Find(&events).Error
	if err != nil {
		return nil, pagination.Pagination{}, err
	}

	hits := make([]SearchHit, 0, len(events))
	for _, ev := range events {
		hits = append(hits, SearchHit{Event: ev, MatchedTerms: matchedTerms(ev, terms)})
	}
	return hits, pagination.Build(p, total), nil
}

func resolveSort(sortBy, sortOrder string) (string, error) {
	if sortBy == "" {
		sortBy = "timestamp"
	}
	col, ok := sortColumns[strings.ToLower(sortBy)]
	if !ok {
		return "", fmt.Errorf("%w: sortBy must be one of timestamp, createdAt, updatedAt", ErrValidation)
	}

	dir := strings.ToLower(sortOrder)
	switch dir {
	case "":
		dir = "desc"
	case "asc", "desc":
	default:
		return "", fmt.Errorf("%w: sortOrder must be asc or desc", ErrValidation)
	}
	return col + " " + dir, nil
}

func matchedTerms(ev Event, terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	title := strings.ToLower(ev.Title)
	content := strings.ToLower(ev.Content)

	var out []string
	for _, t := range terms {
		lt := strings.ToLower(t)
		if strings.Contains(title, lt) || strings.Contains(content, lt) {
			out = append(out, t)
		}
	}
	return out
}

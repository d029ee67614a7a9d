package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"logbook/internal/jobs"
	"logbook/internal/logger"
	"logbook/internal/pagination"
	"logbook/internal/storage"
	"logbook/internal/tag"
	"logbook/internal/user"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound         = errors.New("event not found")
	ErrValidation       = errors.New("validation error")
	ErrInvalidReference = errors.New("referenced entity does not exist")
	ErrUpdateFailed     = errors.New("event update failed")
	ErrDeleteFailed     = errors.New("event delete failed")
)

// MaxAttachmentSize bounds a single uploaded file.
const MaxAttachmentSize = 10 << 20

type Service struct {
	DB    *gorm.DB
	Files storage.Store
	Log   *logger.Logger
}

type CreateInput struct {
	Title           string
	Content         string
	Type            Type
	Timestamp       *time.Time
	Metadata        map[string]any
	AssignedUserIDs []uint64
	TagIDs          []uint64
}

// Create validates every referenced user and tag id before writing
// anything; one unknown id fails the whole operation. The returned event
// is fully hydrated.
func (s *Service) Create(ctx context.Context, in CreateInput, creatorID uint64) (*Event, error) {
	title := strings.TrimSpace(in.Title)
	content := strings.TrimSpace(in.Content)
	if err := validateFields(title, content, in.Type); err != nil {
		return nil, err
	}

	metadata, err := marshalMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	ts := time.Now()
	if in.Timestamp != nil {
		ts = *in.Timestamp
	}

	var created *Event
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&user.User{}).Where("id = ?", creatorID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: creator %d", ErrInvalidReference, creatorID)
		}

		userIDs, err := checkUserRefs(tx, in.AssignedUserIDs)
		if err != nil {
			return err
		}
		tagIDs, err := checkTagRefs(tx, in.TagIDs)
		if err != nil {
			return err
		}

		ev := Event{
			Title:     title,
			Content:   content,
			Type:      in.Type,
			Timestamp: ts,
			Metadata:  metadata,
			CreatorID: creatorID,
		}
		if err := tx.Create(&ev).Error; err != nil {
			return err
		}
		if err := replaceAssignments(tx, ev.ID, userIDs); err != nil {
			return err
		}
		if err := replaceTags(tx, ev.ID, tagIDs); err != nil {
			return err
		}

		created, err = getByID(tx, ev.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Log.Debug().Uint64("event_id", created.ID).Uint64("creator_id", creatorID).Msg("event created")
	return created, nil
}

type UpdateInput struct {
	Title     *string
	Content   *string
	Type      *Type
	Timestamp *time.Time
	Metadata  *map[string]any
	// nil means "no change"; a pointer to an empty slice clears the set.
	AssignedUserIDs *[]uint64
	TagIDs          *[]uint64
}

// Update diffs the tracked fields (title, content, type, timestamp) and
// appends one EventEditHistory row when any changed. Association sets are
// fully replaced when supplied. Everything commits in one transaction, so
// a concurrent read never observes a half-replaced association set.
func (s *Service) Update(ctx context.Context, id uint64, in UpdateInput, editorID uint64) (*Event, error) {
	var updated *Event
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ev Event
		if err := lockForUpdate(tx).First(&ev, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		changes := map[string]map[string]any{}
		updates := map[string]any{}

		if in.Title != nil {
			title := strings.TrimSpace(*in.Title)
			if len(title) < 1 || len(title) > 255 {
				return fmt.Errorf("%w: title must be 1-255 characters", ErrValidation)
			}
			if title != ev.Title {
				changes["title"] = map[string]any{"from": ev.Title, "to": title}
				updates["title"] = title
			}
		}
		if in.Content != nil {
			content := strings.TrimSpace(*in.Content)
			if content == "" {
				return fmt.Errorf("%w: content must not be empty", ErrValidation)
			}
			if content != ev.Content {
				changes["content"] = map[string]any{"from": ev.Content, "to": content}
				updates["content"] = content
			}
		}
		if in.Type != nil {
			if !in.Type.Valid() {
				return fmt.Errorf("%w: unknown event type %q", ErrValidation, *in.Type)
			}
			if *in.Type != ev.Type {
				changes["type"] = map[string]any{"from": ev.Type, "to": *in.Type}
				updates["type"] = *in.Type
			}
		}
		if in.Timestamp != nil && !in.Timestamp.Equal(ev.Timestamp) {
			changes["timestamp"] = map[string]any{"from": ev.Timestamp, "to": *in.Timestamp}
			updates["timestamp"] = *in.Timestamp
		}
		if in.Metadata != nil {
			metadata, err := marshalMetadata(*in.Metadata)
			if err != nil {
				return err
			}
			updates["metadata"] = metadata
		}

		if len(changes) > 0 {
			b, err := json.Marshal(changes)
			if err != nil {
				return err
			}
			h := EventEditHistory{EventID: ev.ID, EditorID: editorID, Changes: datatypes.JSON(b)}
			if err := tx.Create(&h).Error; err != nil {
				return err
			}
		}

		touched := len(updates) > 0

		if in.AssignedUserIDs != nil {
			userIDs, err := checkUserRefs(tx, *in.AssignedUserIDs)
			if err != nil {
				return err
			}
			if err := tx.Where("event_id = ?", ev.ID).Delete(&EventAssignment{}).Error; err != nil {
				return err
			}
			if err := replaceAssignments(tx, ev.ID, userIDs); err != nil {
				return err
			}
			touched = true
		}
		if in.TagIDs != nil {
			tagIDs, err := checkTagRefs(tx, *in.TagIDs)
			if err != nil {
				return err
			}
			if err := tx.Where("event_id = ?", ev.ID).Delete(&EventTag{}).Error; err != nil {
				return err
			}
			if err := replaceTags(tx, ev.ID, tagIDs); err != nil {
				return err
			}
			touched = true
		}

		if len(updates) > 0 {
			if err := tx.Model(&Event{}).Where("id = ?", ev.ID).Updates(updates).Error; err != nil {
				return fmt.Errorf("%w: %v", ErrUpdateFailed, err)
			}
		} else if touched {
			if err := tx.Model(&Event{}).Where("id = ?", ev.ID).Update("updated_at", time.Now()).Error; err != nil {
				return fmt.Errorf("%w: %v", ErrUpdateFailed, err)
			}
		}

		var err error
		updated, err = getByID(tx, ev.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the event and, in one transaction, its assignments, tag
// links, attachments and history, then enqueues a purge job for the
// attachment files. Returns (false, nil) when the event does not exist and
// (false, err) when storage rejects the cascade.
func (s *Service) Delete(ctx context.Context, id uint64) (bool, error) {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ev Event
		if err := tx.Preload("Attachments").First(&ev, id).Error; err != nil {
			return err
		}

		paths := make([]string, 0, len(ev.Attachments))
		for _, a := range ev.Attachments {
			paths = append(paths, a.FileName)
		}

		if err := tx.Where("event_id = ?", id).Delete(&EventAssignment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("event_id = ?", id).Delete(&EventTag{}).Error; err != nil {
			return err
		}
		if err := tx.Where("event_id = ?", id).Delete(&Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("event_id = ?", id).Delete(&EventEditHistory{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Event{}, id).Error; err != nil {
			return err
		}
		return jobs.EnqueueFilePurge(tx, ev.CreatorID, paths)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return true, nil
}

// DeleteByCreator cascades every event the user created. It joins the
// caller's transaction when one is given so the whole user delete commits
// or rolls back as a unit. Satisfies user.EventCascader.
func (s *Service) DeleteByCreator(ctx context.Context, outer *gorm.DB, creatorID uint64) error {
	db := s.DB
	if outer != nil {
		db = outer
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint64
		if err := tx.Model(&Event{}).Where("creator_id = ?", creatorID).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		var paths []string
		if err := tx.Model(&Attachment{}).Where("event_id IN ?", ids).Pluck("file_name", &paths).Error; err != nil {
			return err
		}

		if err := tx.Where("event_id IN ?", ids).Delete(&EventAssignment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("event_id IN ?", ids).Delete(&EventTag{}).Error; err != nil {
			return err
		}
		if err := tx.Where("event_id IN ?", ids).Delete(&Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("event_id IN ?", ids).Delete(&EventEditHistory{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id IN ?", ids).Delete(&Event{}).Error; err != nil {
			return err
		}
		return jobs.EnqueueFilePurge(tx, creatorID, paths)
	})
}

func (s *Service) GetByID(ctx context.Context, id uint64) (*Event, error) {
	return getByID(s.DB.WithContext(ctx), id)
}

// CreatorID reports who created the event without hydrating it; used for
// ownership checks.
func (s *Service) CreatorID(ctx context.Context, id uint64) (uint64, error) {
	var cid uint64
	err := s.DB.WithContext(ctx).Model(&Event{}).Select("creator_id").Where("id = ?", id).Take(&cid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return cid, nil
}

func (s *Service) List(ctx context.Context, p pagination.Params) ([]Event, pagination.Pagination, error) {
	return s.list(ctx, s.DB.WithContext(ctx).Model(&Event{}), p)
}

func (s *Service) ListByCreator(ctx context.Context, creatorID uint64, p pagination.Params) ([]Event, pagination.Pagination, error) {
	q := s.DB.WithContext(ctx).Model(&Event{}).Where("creator_id = ?", creatorID)
	return s.list(ctx, q, p)
}

// ListByDateRange is inclusive on both ends of the logical timestamp.
func (s *Service) ListByDateRange(ctx context.Context, start, end time.Time, p pagination.Params) ([]Event, pagination.Pagination, error) {
	q := s.DB.WithContext(ctx).Model(&Event{}).
		Where("timestamp >= ? AND timestamp <= ?", start, end)
	return s.list(ctx, q, p)
}

func (s *Service) list(_ context.Context, q *gorm.DB, p pagination.Params) ([]Event, pagination.Pagination, error) {
	p = p.Normalized()

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, pagination.Pagination{}, err
	}

	var events []Event
	err := q.
		Preload("Creator").Preload("AssignedUsers").Preload("Tags").Preload("Attachments").
		Order("timestamp desc, id desc").
		Offset(p.Offset()).Limit(p.Limit).
		Find(&events).Error
	if err != nil {
		return nil, pagination.Pagination{}, err
	}
	return events, pagination.Build(p, total), nil
}

// GetHistory returns the append-only edit log, oldest first.
func (s *Service) GetHistory(ctx context.Context, eventID uint64) ([]EventEditHistory, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&Event{}).Where("id = ?", eventID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	var history []EventEditHistory
	err := s.DB.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at asc, id asc").
		Find(&history).Error
	if err != nil {
		return nil, err
	}
	return history, nil
}

type Stats struct {
	Total            int64          `json:"total"`
	ByType           map[Type]int64 `json:"byType"`
	CreatedLast7Days int64          `json:"createdLast7Days"`
}

func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByType: map[Type]int64{
		TypeSimpleMessage: 0, TypePhotoWithNotes: 0, TypeEmail: 0, TypeText: 0, TypeDocument: 0,
	}}

	if err := s.DB.WithContext(ctx).Model(&Event{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	var rows []struct {
		Type  Type
		Count int64
	}
	if err := s.DB.WithContext(ctx).Model(&Event{}).
		Select("type, count(*) as count").Group("type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.ByType[r.Type] = r.Count
	}

	since := time.Now().AddDate(0, 0, -7)
	if err := s.DB.WithContext(ctx).Model(&Event{}).
		Where("created_at >= ?", since).Count(&stats.CreatedLast7Days).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// AddAttachment streams at most MaxAttachmentSize bytes into the file
// store and records the reference row. The file is removed again if the
// row insert fails.
func (s *Service) AddAttachment(ctx context.Context, eventID uint64, r io.Reader, originalName, mimeType string) (*Attachment, error) {
	originalName = strings.TrimSpace(originalName)
	if originalName == "" {
		return nil, fmt.Errorf("%w: attachment needs a filename", ErrValidation)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var count int64
	if err := s.DB.WithContext(ctx).Model(&Event{}).Where("id = ?", eventID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	stored, size, err := s.Files.Save(r, originalName, MaxAttachmentSize)
	if err != nil {
		return nil, err
	}

	att := &Attachment{
		EventID:      eventID,
		FileName:     stored,
		OriginalName: originalName,
		MimeType:     mimeType,
		Size:         size,
	}
	if err := s.DB.WithContext(ctx).Create(att).Error; err != nil {
		_ = s.Files.Remove(stored)
		return nil, err
	}
	return att, nil
}

func (s *Service) GetAttachment(ctx context.Context, eventID, attachmentID uint64) (*Attachment, error) {
	var att Attachment
	err := s.DB.WithContext(ctx).
		Where("id = ? AND event_id = ?", attachmentID, eventID).
		First(&att).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &att, nil
}

func (s *Service) RemoveAttachment(ctx context.Context, eventID, attachmentID uint64) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var att Attachment
		err := tx.Where("id = ? AND event_id = ?", attachmentID, eventID).First(&att).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var ev Event
		if err := tx.Select("creator_id").First(&ev, eventID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Attachment{}, att.ID).Error; err != nil {
			return err
		}
		return jobs.EnqueueFilePurge(tx, ev.CreatorID, []string{att.FileName})
	})
}

// ── helpers ──

func validateFields(title, content string, t Type) error {
	if len(title) < 1 || len(title) > 255 {
		return fmt.Errorf("%w: title must be 1-255 characters", ErrValidation)
	}
	if content == "" {
		return fmt.Errorf("%w: content must not be empty", ErrValidation)
	}
	if !t.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, t)
	}
	return nil
}

func marshalMetadata(m map[string]any) (datatypes.JSON, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata must be a JSON object", ErrValidation)
	}
	return datatypes.JSON(b), nil
}

func uniqueIDs(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// checkUserRefs rejects the whole operation when any id is unknown.
func checkUserRefs(tx *gorm.DB, ids []uint64) ([]uint64, error) {
	uniq := uniqueIDs(ids)
	if len(uniq) == 0 {
		return nil, nil
	}
	var count int64
	if err := tx.Model(&user.User{}).Where("id IN ?", uniq).Count(&count).Error; err != nil {
		return nil, err
	}
	if count != int64(len(uniq)) {
		return nil, fmt.Errorf("%w: unknown assigned user id", ErrInvalidReference)
	}
	return uniq, nil
}

func checkTagRefs(tx *gorm.DB, ids []uint64) ([]uint64, error) {
	uniq := uniqueIDs(ids)
	if len(uniq) == 0 {
		return nil, nil
	}
	var count int64
	if err := tx.Model(&tag.Tag{}).Where("id IN ?", uniq).Count(&count).Error; err != nil {
		return nil, err
	}
	if count != int64(len(uniq)) {
		return nil, fmt.Errorf("%w: unknown tag id", ErrInvalidReference)
	}
	return uniq, nil
}

func replaceAssignments(tx *gorm.DB, eventID uint64, userIDs []uint64) error {
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]EventAssignment, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, EventAssignment{EventID: eventID, UserID: id})
	}
	return tx.Create(&rows).Error
}

func replaceTags(tx *gorm.DB, eventID uint64, tagIDs []uint64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	rows := make([]EventTag, 0, len(tagIDs))
	for _, id := range tagIDs {
		rows = append(rows, EventTag{EventID: eventID, TagID: id})
	}
	return tx.Create(&rows).Error
}

func getByID(tx *gorm.DB, id uint64) (*Event, error) {
	var ev Event
	err := tx.Preload("Creator").Preload("AssignedUsers").Preload("Tags").Preload("Attachments").
		First(&ev, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// lockForUpdate row-locks on postgres; sqlite (tests) has no FOR UPDATE,
// its single-writer transaction lock covers the same ground.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

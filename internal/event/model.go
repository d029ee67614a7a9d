package event

import (
	"time"

	"logbook/internal/tag"
	"logbook/internal/user"

	"gorm.io/datatypes"
)

// Type is the closed set of recordable event kinds.
type Type string

const (
	TypeSimpleMessage  Type = "simple_message"
	TypePhotoWithNotes Type = "photo_with_notes"
	TypeEmail          Type = "email"
	TypeText           Type = "text"
	TypeDocument       Type = "document"
)

func (t Type) Valid() bool {
	switch t {
	case TypeSimpleMessage, TypePhotoWithNotes, TypeEmail, TypeText, TypeDocument:
		return true
	}
	return false
}

// Event is the central entity. CreatorID and CreatedAt never change after
// creation; Timestamp is the logical event time and is user-adjustable.
// Metadata is a type-dependent key/value payload the store does not
// interpret beyond requiring a JSON object.
type Event struct {
	ID        uint64         `gorm:"primaryKey" json:"id"`
	Title     string         `gorm:"size:255;not null" json:"title"`
	Content   string         `gorm:"type:text;not null" json:"content"`
	Type      Type           `gorm:"size:32;not null;index" json:"type"`
	Timestamp time.Time      `gorm:"not null;index" json:"timestamp"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`

	CreatorID uint64     `gorm:"index;not null" json:"creatorId"`
	Creator   *user.User `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`

	AssignedUsers []user.User  `gorm:"many2many:event_assignments" json:"assignedUsers"`
	Tags          []tag.Tag    `gorm:"many2many:event_tags" json:"tags"`
	Attachments   []Attachment `gorm:"foreignKey:EventID" json:"attachments"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

// EventAssignment and EventTag mirror the many2many join tables so
// association sets can be replaced and cleaned up with plain row ops.
type EventAssignment struct {
	EventID uint64 `gorm:"primaryKey"`
	UserID  uint64 `gorm:"primaryKey"`
}

func (EventAssignment) TableName() string { return "event_assignments" }

type EventTag struct {
	EventID uint64 `gorm:"primaryKey"`
	TagID   uint64 `gorm:"primaryKey"`
}

func (EventTag) TableName() string { return "event_tags" }

// EventEditHistory is append-only: one row per update that changed any of
// title, content, type or timestamp. Changes holds {field: {from, to}} for
// the changed fields only.
type EventEditHistory struct {
	ID        uint64         `gorm:"primaryKey" json:"id"`
	EventID   uint64         `gorm:"index;not null" json:"eventId"`
	EditorID  uint64         `gorm:"not null" json:"editorId"`
	Changes   datatypes.JSON `gorm:"not null" json:"changes"`
	CreatedAt time.Time      `gorm:"not null" json:"createdAt"`
}

// Attachment is a file reference owned by exactly one event. FileName is
// the stored locator; OriginalName is what the uploader called it.
type Attachment struct {
	ID           uint64    `gorm:"primaryKey" json:"id"`
	EventID      uint64    `gorm:"index;not null" json:"eventId"`
	FileName     string    `gorm:"size:255;not null" json:"fileName"`
	OriginalName string    `gorm:"size:255;not null" json:"originalName"`
	MimeType     string    `gorm:"size:127;not null" json:"mimeType"`
	Size         int64     `gorm:"not null" json:"size"`
	CreatedAt    time.Time `gorm:"not null" json:"createdAt"`
}

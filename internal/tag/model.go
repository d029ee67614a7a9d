package tag

import "time"

// Tag is a named, colored label shared across events. Names are unique and
// case-sensitive; Color is a 6-hex-digit value without the leading '#'.
type Tag struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:50;not null" json:"name"`
	Color     string    `gorm:"size:6;not null" json:"color"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}

// TagWithCount is a Tag plus its event association count.
type TagWithCount struct {
	Tag
	EventCount int64 `json:"eventCount"`
}

package jobs

import "time"

const TypeFilePurge = "FILE_PURGE"

// Job rows are enqueued inside the same transaction as the row deletes
// that orphan attachment files, so disk cleanup survives crashes.
type Job struct {
	ID     uint64 `gorm:"primaryKey"`
	UserID uint64 `gorm:"index;not null"`

	Type    string `gorm:"type:text;not null"` // FILE_PURGE
	Payload []byte `gorm:"not null"`

	RunAt  time.Time `gorm:"index;not null"`
	Status string    `gorm:"index;not null;default:'PENDING'"` // PENDING/RUNNING/DONE/FAILED

	Attempts    int `gorm:"not null;default:0"`
	MaxAttempts int `gorm:"not null;default:8"`

	LockedBy *string    `gorm:"type:text"`
	LockedAt *time.Time

	LastError *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// FilePurgePayload lists stored attachment names to remove from disk.
type FilePurgePayload struct {
	Paths []string `json:"paths"`
}

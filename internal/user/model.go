package user

import "time"

// User is an identity record. Username is immutable once created; profile
// fields and the credential hash may change. PasswordHash never leaves the
// package through JSON.
type User struct {
	ID           uint64    `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:50;not null" json:"username"`
	Email        string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	DisplayName  string    `gorm:"size:100;not null" json:"displayName"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"not null" json:"updatedAt"`
}

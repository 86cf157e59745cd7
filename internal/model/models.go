package model

import "time"

// User represents a site editor or administrator.
//
// Users are created lazily on their first login-link request with the
// editor role; only admins may mutate content.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"` // normalized lower-case
	Role      string    `gorm:"type:varchar(16);default:editor" json:"role"`         // editor / admin
	CreatedAt time.Time `json:"created_at"`
}

// LoginToken is a single-use magic-link credential.
//
// Only the SHA-256 hash of the raw secret is stored. A token is consumable
// at most once: Used flips under a conditional update and rows are never
// deleted in the normal flow.
type LoginToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	TokenHash string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	Used      bool      `gorm:"not null;default:false"`
	CreatedAt time.Time
	IP        string `gorm:"type:varchar(64)"` // requester address, kept for audit
	UserAgent string
}

// Article is a published piece of campaign content.
type Article struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"not null" json:"title"` // required, <= 200 chars
	Author    string    `json:"author"`                // <= 100 chars
	Content   string    `json:"content"`               // <= 10000 chars
	Image     string    `json:"image"`                 // optional http(s) URL
	CreatedAt time.Time `json:"created_at"`
}

// Photo is an uploaded image; Filename is server-generated, never the
// client-supplied name.
type Photo struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Filename    string    `gorm:"not null" json:"filename"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Video is an uploaded video clip; same naming rules as Photo.
type Video struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Filename    string    `gorm:"not null" json:"filename"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

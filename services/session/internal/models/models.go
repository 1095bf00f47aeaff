package models

import "time"

// SessionStatus is the lifecycle state of a login session.
//
//	ACTIVE   → INACTIVE  (logout, idle timeout)
//	ACTIVE   → BLOCKED   (concurrent-session anomaly; terminal here)
//	INACTIVE → REVOKED   (retention sweep)
//	REVOKED  → deleted   (purge sweep)
type SessionStatus string

const (
	StatusActive   SessionStatus = "ACTIVE"
	StatusInactive SessionStatus = "INACTIVE"
	StatusBlocked  SessionStatus = "BLOCKED"
	StatusRevoked  SessionStatus = "REVOKED"
)

type Session struct {
	ID               string        `gorm:"primaryKey"                              json:"id"`
	UserID           uint          `gorm:"not null;index:idx_sessions_user_status" json:"user_id"`
	AccessToken      string        `gorm:"uniqueIndex;not null"                    json:"-"`
	RefreshToken     string        `gorm:"uniqueIndex;not null"                    json:"-"`
	AccessExpiresAt  time.Time     `gorm:"not null"                                json:"access_expires_at"`
	RefreshExpiresAt time.Time     `gorm:"not null"                                json:"refresh_expires_at"`
	CreatedAt        time.Time     `gorm:"not null"                                json:"created_at"`
	LastActivityAt   time.Time     `gorm:"not null;index"                          json:"last_activity_at"`
	Status           SessionStatus `gorm:"not null;index:idx_sessions_user_status" json:"status"`
	// StatusChangedAt marks the last transition; retention and purge
	// windows are measured from it.
	StatusChangedAt time.Time `gorm:"not null" json:"status_changed_at"`
}

type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string `gorm:"unique;not null"          json:"username"`
	PasswordHash string `gorm:"not null"                 json:"-"`
	Role         string `gorm:"not null"                 json:"role"`
	Email        string `gorm:""                         json:"email"`
	IsBlocked    bool   `gorm:"default:false"            json:"is_blocked"`
}

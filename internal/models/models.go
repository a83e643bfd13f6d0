package models

import "time"

type Room struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type Participant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	RoomID    uint      `gorm:"index:idx_participant_room_active;not null" json:"room_id"`
	Active    bool      `gorm:"index:idx_participant_room_active;not null" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

type Message struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RoomID        uint      `gorm:"index:idx_msg_room_id;not null" json:"room_id"`
	ParticipantID uint      `gorm:"index;not null" json:"participant_id"`
	Text          string    `gorm:"type:text;not null" json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

// Session 对应一个已签发的身份令牌，令牌的 jti 即会话 ID。
type Session struct {
	ID            string     `gorm:"primaryKey;size:36"`
	ParticipantID uint       `gorm:"index;not null"`
	RoomID        uint       `gorm:"not null"`
	ExpiresAt     time.Time  `gorm:"index;not null"`
	RevokedAt     *time.Time
	CreatedAt     time.Time
}

package database

import "time"

// Crash is a record in the crashes table: one row per crashing input.
type Crash struct {
	ID          int       `gorm:"primaryKey;column:id"`
	CreatedAt   time.Time `gorm:"column:created_at;default:now()"`
	Command     string    `gorm:"column:command;not null"`
	Fingerprint string    `gorm:"column:fingerprint;not null"`
	Size        int       `gorm:"column:size"`
}

// Timeout is a record in the timeouts table.
type Timeout struct {
	ID          int       `gorm:"primaryKey;column:id"`
	CreatedAt   time.Time `gorm:"column:created_at;default:now()"`
	Command     string    `gorm:"column:command;not null"`
	Fingerprint string    `gorm:"column:fingerprint;not null"`
	Size        int       `gorm:"column:size"`
}

// Exemplar is a record in the exemplars table: one row per improvement, so
// the table is the history of best reproducers per behavior label.
type Exemplar struct {
	ID          int       `gorm:"primaryKey;column:id"`
	CreatedAt   time.Time `gorm:"column:created_at;default:now()"`
	Command     string    `gorm:"column:command;not null"`
	Label       string    `gorm:"column:label;not null"`
	Fingerprint string    `gorm:"column:fingerprint;not null"`
	Size        int       `gorm:"column:size"`
}

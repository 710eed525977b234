package models

import "gorm.io/gorm"

const (
	DispatchSent   = "sent"
	DispatchFailed = "failed"
)

type DispatchRecord struct {
	gorm.Model
	Kind      string `gorm:"index:idx_kind_stream"`
	StreamKey string `gorm:"index:idx_kind_stream"`
	ItemID    string
	Label     string
	Status    string
	MessageID string
	Error     string
	TickID    string
}

type DispatchRecords []DispatchRecord

package models

import (
	"time"
)

type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "success"
	HistoryFailed  HistoryStatus = "failed"
)

// HistoryRecord is a single publish attempt. Rows are only ever inserted.
type HistoryRecord struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	SourceItemID    string        `gorm:"size:255" json:"source_item_id"`
	ItemID          *uint         `gorm:"uniqueIndex:idx_history_success_once,where:status = 'success';index" json:"item_id"`
	OriginID        string        `gorm:"size:255;index" json:"origin_id"`
	DestinationID   string        `gorm:"size:255;not null;uniqueIndex:idx_history_success_once,where:status = 'success';index:idx_history_destination_status" json:"destination_id"`
	DestinationPost string        `gorm:"size:255" json:"destination_post_id"`
	DestinationURL  string        `gorm:"size:500" json:"destination_url"`
	TaskID          *uint         `gorm:"index" json:"task_id"`
	Status          HistoryStatus `gorm:"size:20;not null;index:idx_history_destination_status" json:"status"`
	ErrorMessage    string        `gorm:"type:text" json:"error_message"`
	PublishedAt     time.Time     `gorm:"not null;index" json:"published_at"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func (HistoryRecord) TableName() string {
	return "publish_history"
}

package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TaskKind string

const (
	TaskKindScheduled TaskKind = "scheduled"
	TaskKindOneTime   TaskKind = "one_time"
)

// TaskSchedule drives a recurring task. An ExecutionLimit of 0 means unlimited.
type TaskSchedule struct {
	Expression     string `gorm:"size:100" json:"expression"`
	ExecutionCount int    `gorm:"default:0" json:"execution_count"`
	ExecutionLimit int    `gorm:"default:0" json:"execution_limit"`
	Active         bool   `gorm:"index" json:"active"`
}

type TaskOneTime struct {
	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at"`
	Executed    bool       `gorm:"index" json:"executed"`
}

type PublishOptions struct {
	FromGroup bool `json:"from_group"`
	Pin       bool `json:"pin"`
	MarkAsAds bool `json:"mark_as_ads"`
}

// PreOptions are applied to the item text before any customization block is added.
type PreOptions struct {
	StripHashtags bool `json:"strip_hashtags"`
	Transliterate bool `json:"transliterate"`
}

type TextPosition string

const (
	TextBefore TextPosition = "before"
	TextAfter  TextPosition = "after"
)

type Customization struct {
	Text          string       `gorm:"type:text" json:"text"`
	TextPosition  TextPosition `gorm:"size:20;default:'after'" json:"text_position"`
	Hashtags      string       `gorm:"size:1000" json:"hashtags"`
	AddSourceLink bool         `json:"add_source_link"`
	Signature     string       `gorm:"size:1000" json:"signature"`
	ImageURL      string       `gorm:"size:1000" json:"image_url"`
}

type TaskStatistics struct {
	TotalRuns       int        `gorm:"default:0" json:"total_runs"`
	TotalPublished  int        `gorm:"default:0" json:"total_published"`
	TotalFailed     int        `gorm:"default:0" json:"total_failed"`
	LastExecutionAt *time.Time `json:"last_execution_at"`
	NextExecutionAt *time.Time `gorm:"index" json:"next_execution_at"`
}

type PublishTask struct {
	ID              uint                        `gorm:"primaryKey" json:"id"`
	Name            string                      `gorm:"size:255" json:"name"`
	Kind            TaskKind                    `gorm:"size:20;not null;index" json:"kind"`
	Destinations    datatypes.JSONSlice[string] `json:"destinations"`
	Sources         datatypes.JSONSlice[string] `json:"sources"`
	ItemsPerRun     int                         `gorm:"default:1" json:"items_per_run"`
	MinRank         float64                     `gorm:"default:0" json:"min_rank"`
	GeneratorID     string                      `gorm:"size:100" json:"generator_id"`
	GeneratorParams datatypes.JSONMap           `json:"generator_params"`

	Schedule      TaskSchedule   `gorm:"embedded;embeddedPrefix:schedule_" json:"schedule"`
	OneTime       TaskOneTime    `gorm:"embedded;embeddedPrefix:one_time_" json:"one_time"`
	Options       PublishOptions `gorm:"embedded;embeddedPrefix:publish_" json:"publish_options"`
	Pre           PreOptions     `gorm:"embedded;embeddedPrefix:pre_" json:"pre_options"`
	Customization Customization  `gorm:"embedded;embeddedPrefix:custom_" json:"customization"`
	Stats         TaskStatistics `gorm:"embedded;embeddedPrefix:stats_" json:"statistics"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

func (t *PublishTask) UsesGenerator() bool {
	return t.GeneratorID != ""
}

// Terminal reports whether the task will never run again.
func (t *PublishTask) Terminal() bool {
	switch t.Kind {
	case TaskKindOneTime:
		return t.OneTime.Executed
	default:
		return !t.Schedule.Active
	}
}

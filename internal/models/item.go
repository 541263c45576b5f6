package models

import (
	"time"

	"gorm.io/datatypes"
)

type AttachmentType string

const (
	AttachmentPhoto AttachmentType = "photo"
	AttachmentVideo AttachmentType = "video"
	AttachmentDoc   AttachmentType = "doc"
	AttachmentAudio AttachmentType = "audio"
)

type PhotoSize struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Attachment is media as it was collected from the origin platform.
// MediaID is the native "<owner>_<id>" pair, without the type prefix.
type Attachment struct {
	Type    AttachmentType `json:"type"`
	MediaID string         `json:"media_id,omitempty"`
	URL     string         `json:"url,omitempty"`
	Sizes   []PhotoSize    `json:"sizes,omitempty"`
	Title   string         `json:"title,omitempty"`
}

// MirroredMedia is an attachment already copied into owned storage.
type MirroredMedia struct {
	Type    AttachmentType `json:"type"`
	MediaID string         `json:"media_id"`
	URL     string         `json:"url"`
}

type PublishedMarker struct {
	DestinationID string    `json:"destination_id"`
	PostID        string    `json:"post_id"`
	PublishedAt   time.Time `json:"published_at"`
}

// CandidateItem is produced by ingestion. The publishing side reads it and
// only appends to PublishedTo.
type CandidateItem struct {
	ID            uint                                 `gorm:"primaryKey" json:"id"`
	SourceItemID  string                               `gorm:"size:255;index" json:"source_item_id"`
	OriginID      string                               `gorm:"size:255;not null;index" json:"origin_id"`
	Rank          float64                              `gorm:"index" json:"rank"`
	Text          string                               `gorm:"type:text" json:"text"`
	URL           string                               `gorm:"size:1000" json:"url"`
	IsGallery     bool                                 `json:"is_gallery"`
	Attachments   datatypes.JSONSlice[Attachment]      `json:"attachments"`
	MirroredMedia datatypes.JSONSlice[MirroredMedia]   `json:"mirrored_media"`
	PublishedTo   datatypes.JSONSlice[PublishedMarker] `json:"published_to"`
	CollectedAt   time.Time                            `json:"collected_at"`
	CreatedAt     time.Time                            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time                            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *CandidateItem) CountAttachments(t AttachmentType) int {
	n := 0
	for _, a := range i.Attachments {
		if a.Type == t {
			n++
		}
	}
	return n
}

func (i *CandidateItem) CountMirrored(t AttachmentType) int {
	n := 0
	for _, m := range i.MirroredMedia {
		if m.Type == t {
			n++
		}
	}
	return n
}

// MediaMirrored reports whether every photo and video has a mirrored copy.
func (i *CandidateItem) MediaMirrored() bool {
	return i.CountMirrored(AttachmentPhoto) == i.CountAttachments(AttachmentPhoto) &&
		i.CountMirrored(AttachmentVideo) == i.CountAttachments(AttachmentVideo)
}

func (i *CandidateItem) PublishedToDestination(destinationID string) bool {
	for _, m := range i.PublishedTo {
		if m.DestinationID == destinationID {
			return true
		}
	}
	return false
}

func (i *CandidateItem) MirroredURL(t AttachmentType, mediaID string) string {
	if mediaID == "" {
		return ""
	}
	for _, m := range i.MirroredMedia {
		if m.Type == t && m.MediaID == mediaID {
			return m.URL
		}
	}
	return ""
}

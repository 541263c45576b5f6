package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/ifuryst/reposter/internal/models"
	"github.com/ifuryst/reposter/internal/service/publisher/wall"
)

var (
	ErrNoCredential     = errors.New("no credential available")
	ErrPermission       = errors.New("insufficient permissions")
	ErrAlreadyPublished = errors.New("item already published to destination")
	ErrQueueStopped     = errors.New("upload queue stopped")
)

// Platform is the destination wall API. *wall.Client implements it.
type Platform interface {
	NegotiateUpload(ctx context.Context, token string, kind wall.MediaKind, destination string) (*wall.UploadTarget, error)
	UploadBinary(ctx context.Context, target *wall.UploadTarget, filename string, data []byte) (*wall.UploadReceipt, error)
	SaveAttachment(ctx context.Context, token string, kind wall.MediaKind, destination string, target *wall.UploadTarget, receipt *wall.UploadReceipt) (string, error)
	Download(ctx context.Context, url string) ([]byte, error)

	CreatePost(ctx context.Context, token string, req wall.PostRequest) (*wall.PostResult, error)
	PinPost(ctx context.Context, token, ownerID string, postID int64) error
	DeletePost(ctx context.Context, token, ownerID string, postID int64) error
}

// Options control how a single post is submitted.
type Options struct {
	FromGroup bool
	Pin       bool
	MarkAsAds bool
	PublishAt *time.Time
	TaskID    *uint

	// AddedMedia is set when customization attached media the item did not have.
	AddedMedia bool

	// GeneratorID names the generator behind generated content.
	GeneratorID string
}

func OptionsFromTask(task *models.PublishTask) Options {
	id := task.ID
	return Options{
		FromGroup:   task.Options.FromGroup,
		Pin:         task.Options.Pin,
		MarkAsAds:   task.Options.MarkAsAds,
		TaskID:      &id,
		GeneratorID: task.GeneratorID,
	}
}

type Result struct {
	PostID int64                 `json:"post_id"`
	URL    string                `json:"url"`
	Record *models.HistoryRecord `json:"record"`
}

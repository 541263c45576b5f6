package publisher

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/reposter/internal/models"
	"github.com/ifuryst/reposter/internal/service/publisher/wall"
)

// AttachmentResolver turns an item's attachments into references the
// destination accepts. Anything that cannot be resolved is dropped.
type AttachmentResolver struct {
	platform Platform
	queue    *UploadQueue
	logger   *zap.Logger
}

func NewAttachmentResolver(platform Platform, queue *UploadQueue, logger *zap.Logger) *AttachmentResolver {
	return &AttachmentResolver{
		platform: platform,
		queue:    queue,
		logger:   logger,
	}
}

func (r *AttachmentResolver) Resolve(ctx context.Context, token, destination string, item *models.CandidateItem) []string {
	refs := make([]string, 0, len(item.Attachments))
	for i, a := range item.Attachments {
		var ref string
		switch a.Type {
		case models.AttachmentPhoto:
			ref = r.resolvePhoto(ctx, token, destination, item, a, i)
		case models.AttachmentVideo:
			ref = r.resolveVideo(ctx, token, destination, item, a, i)
		case models.AttachmentDoc, models.AttachmentAudio:
			ref = nativeRef(a)
		}

		if ref == "" {
			r.logger.Debug("Attachment dropped",
				zap.Uint("item_id", item.ID),
				zap.String("type", string(a.Type)),
				zap.String("media_id", a.MediaID))
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// PhotoSource picks the URL to copy a photo from: the mirrored copy, then the
// largest native size, then whatever URL the attachment carries.
func PhotoSource(item *models.CandidateItem, a models.Attachment) string {
	if u := item.MirroredURL(models.AttachmentPhoto, a.MediaID); u != "" {
		return u
	}

	best, bestArea := "", -1
	for _, s := range a.Sizes {
		if s.URL == "" {
			continue
		}
		if area := s.Width * s.Height; area > bestArea {
			best, bestArea = s.URL, area
		}
	}
	if best != "" {
		return best
	}
	return a.URL
}

func (r *AttachmentResolver) resolvePhoto(ctx context.Context, token, destination string, item *models.CandidateItem, a models.Attachment, idx int) string {
	src := PhotoSource(item, a)
	if src == "" {
		return ""
	}

	ref, err := r.queue.Upload(ctx, UploadJob{
		Token:       token,
		Destination: destination,
		URL:         src,
		Filename:    mediaFilename(src, "photo", idx, ".jpg"),
	})
	if err != nil {
		r.logger.Warn("Photo upload failed, publishing without it",
			zap.Uint("item_id", item.ID),
			zap.String("destination", destination),
			zap.String("url", src),
			zap.Error(err))
		return ""
	}
	return ref
}

// resolveVideo re-uploads the mirrored copy inline and falls back to the
// original platform video.
func (r *AttachmentResolver) resolveVideo(ctx context.Context, token, destination string, item *models.CandidateItem, a models.Attachment, idx int) string {
	if src := item.MirroredURL(models.AttachmentVideo, a.MediaID); src != "" {
		ref, err := r.uploadVideo(ctx, token, destination, src, mediaFilename(src, "video", idx, ".mp4"))
		if err == nil {
			return ref
		}
		r.logger.Warn("Video re-upload failed, falling back to original",
			zap.Uint("item_id", item.ID),
			zap.String("destination", destination),
			zap.String("media_id", a.MediaID),
			zap.Error(err))
	}
	return nativeRef(a)
}

func (r *AttachmentResolver) uploadVideo(ctx context.Context, token, destination, src, filename string) (string, error) {
	data, err := r.platform.Download(ctx, src)
	if err != nil {
		return "", err
	}
	target, err := r.platform.NegotiateUpload(ctx, token, wall.MediaVideo, destination)
	if err != nil {
		return "", fmt.Errorf("failed to negotiate video upload: %w", err)
	}
	receipt, err := r.platform.UploadBinary(ctx, target, filename, data)
	if err != nil {
		return "", err
	}
	return r.platform.SaveAttachment(ctx, token, wall.MediaVideo, destination, target, receipt)
}

func nativeRef(a models.Attachment) string {
	if a.MediaID == "" {
		return ""
	}
	return string(a.Type) + a.MediaID
}

func mediaFilename(src, prefix string, idx int, fallbackExt string) string {
	ext := path.Ext(strings.SplitN(src, "?", 2)[0])
	if ext == "" || len(ext) > 5 {
		ext = fallbackExt
	}
	return fmt.Sprintf("%s_%d%s", prefix, idx, ext)
}

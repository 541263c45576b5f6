// Package publisher submits posts to a destination wall: it resolves the
// credential and attachments, creates the post and writes the ledger.
package publisher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/reposter/internal/models"
	"github.com/ifuryst/reposter/internal/service/generator"
	"github.com/ifuryst/reposter/internal/service/ledger"
	"github.com/ifuryst/reposter/internal/service/publisher/wall"
)

type Publisher struct {
	platform    Platform
	credentials *Credentials
	resolver    *AttachmentResolver
	ledger      *ledger.Ledger
	logger      *zap.Logger
	now         func() time.Time
}

func NewPublisher(platform Platform, credentials *Credentials, resolver *AttachmentResolver, ledger *ledger.Ledger, logger *zap.Logger) *Publisher {
	return &Publisher{
		platform:    platform,
		credentials: credentials,
		resolver:    resolver,
		ledger:      ledger,
		logger:      logger,
		now:         time.Now,
	}
}

func (p *Publisher) Credentials() *Credentials {
	return p.credentials
}

// PublishItem posts a stored item to destination. Only success is written to
// the ledger here; callers record failures.
func (p *Publisher) PublishItem(ctx context.Context, item *models.CandidateItem, destination string, opts Options) (*Result, error) {
	logger := p.logger.With(zap.Uint("item_id", item.ID), zap.String("destination", destination))

	if done, err := p.ledger.HasSuccess(ctx, item.ID, destination); err != nil {
		logger.Warn("Failed to check publish history", zap.Error(err))
	} else if done {
		return nil, ErrAlreadyPublished
	}

	cred, err := p.credentials.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	res, err := p.submit(ctx, cred, destination, item, opts)
	if err != nil {
		return nil, err
	}

	itemID := item.ID
	res.Record = p.ledger.Record(ctx, models.HistoryRecord{
		SourceItemID:    item.SourceItemID,
		ItemID:          &itemID,
		OriginID:        item.OriginID,
		DestinationID:   destination,
		DestinationPost: strconv.FormatInt(res.PostID, 10),
		DestinationURL:  res.URL,
		TaskID:          opts.TaskID,
		Status:          models.HistorySuccess,
		PublishedAt:     p.now(),
	})

	if res.Record.ID == 0 {
		// Another run won the race for this item; take our post down again.
		if dup, err := p.ledger.HasSuccess(ctx, item.ID, destination); err == nil && dup {
			logger.Warn("Item was published concurrently, deleting duplicate post", zap.Int64("post_id", res.PostID))
			if err := p.platform.DeletePost(ctx, cred.Token, destination, res.PostID); err != nil {
				logger.Error("Failed to delete duplicate post", zap.Int64("post_id", res.PostID), zap.Error(err))
			}
			return nil, ErrAlreadyPublished
		}
	}

	marker := models.PublishedMarker{
		DestinationID: destination,
		PostID:        strconv.FormatInt(res.PostID, 10),
		PublishedAt:   p.now(),
	}
	if err := p.ledger.MarkItemPublished(ctx, item.ID, marker); err != nil {
		logger.Warn("Failed to mark item as published", zap.Error(err))
	}

	logger.Info("Item published", zap.Int64("post_id", res.PostID), zap.String("url", res.URL))
	return res, nil
}

// PublishGenerated posts generator output to destination.
func (p *Publisher) PublishGenerated(ctx context.Context, content *generator.Content, destination string, opts Options) (*Result, error) {
	cred, err := p.credentials.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	item := &models.CandidateItem{
		Text:        content.Text,
		Attachments: content.Attachments,
	}
	res, err := p.submit(ctx, cred, destination, item, opts)
	if err != nil {
		return nil, err
	}

	res.Record = p.ledger.Record(ctx, models.HistoryRecord{
		SourceItemID:    "generator:" + opts.GeneratorID,
		DestinationID:   destination,
		DestinationPost: strconv.FormatInt(res.PostID, 10),
		DestinationURL:  res.URL,
		TaskID:          opts.TaskID,
		Status:          models.HistorySuccess,
		PublishedAt:     p.now(),
	})

	p.logger.Info("Generated content published",
		zap.String("generator", opts.GeneratorID),
		zap.String("destination", destination),
		zap.Int64("post_id", res.PostID))
	return res, nil
}

func (p *Publisher) submit(ctx context.Context, cred *models.AccessCredential, destination string, item *models.CandidateItem, opts Options) (*Result, error) {
	refs := p.resolver.Resolve(ctx, cred.Token, destination, item)
	carousel := item.CountAttachments(models.AttachmentPhoto) > 1 || item.IsGallery || opts.AddedMedia

	post, err := p.platform.CreatePost(ctx, cred.Token, wall.PostRequest{
		OwnerID:     destination,
		Message:     item.Text,
		Attachments: refs,
		FromGroup:   opts.FromGroup,
		MarkAsAds:   opts.MarkAsAds,
		Carousel:    carousel,
		PublishAt:   opts.PublishAt,
	})
	if err != nil {
		return nil, p.translate(err)
	}

	if opts.Pin {
		if err := p.platform.PinPost(ctx, cred.Token, destination, post.PostID); err != nil {
			p.logger.Warn("Failed to pin post",
				zap.String("destination", destination),
				zap.Int64("post_id", post.PostID),
				zap.Error(err))
		}
	}

	return &Result{PostID: post.PostID, URL: post.URL}, nil
}

func (p *Publisher) translate(err error) error {
	if wall.IsPermission(err) {
		return fmt.Errorf("%w: re-authorize the credential with full scopes (%s): %v",
			ErrPermission, strings.Join(p.credentials.RequiredScopes(), ", "), err)
	}
	return err
}

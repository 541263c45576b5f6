package publisher

import (
	"context"
	"fmt"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/reposter/internal/models"
)

// Credentials picks the access credential used for a publish.
type Credentials struct {
	db       *gorm.DB
	logger   *zap.Logger
	required mapset.Set[string]
	now      func() time.Time
}

func NewCredentials(db *gorm.DB, requiredScopes []string, logger *zap.Logger) *Credentials {
	return &Credentials{
		db:       db,
		logger:   logger,
		required: mapset.NewSet[string](requiredScopes...),
		now:      time.Now,
	}
}

func (c *Credentials) RequiredScopes() []string {
	scopes := c.required.ToSlice()
	sort.Strings(scopes)
	return scopes
}

// Resolve returns the first active, unexpired credential whose scopes cover
// the required set. Without one, it falls back to the first active, unexpired
// credential. The chosen credential gets its last-used time stamped.
func (c *Credentials) Resolve(ctx context.Context) (*models.AccessCredential, error) {
	var creds []models.AccessCredential
	if err := c.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	now := c.now()
	var chosen, fallback *models.AccessCredential
	for i := range creds {
		cred := &creds[i]
		if cred.Expired(now) {
			continue
		}
		if mapset.NewSet[string](cred.Scopes...).IsSuperset(c.required) {
			chosen = cred
			break
		}
		if fallback == nil {
			fallback = cred
		}
	}

	if chosen == nil {
		if fallback == nil {
			return nil, ErrNoCredential
		}
		c.logger.Warn("No credential has every required scope, using first active one",
			zap.Uint("credential_id", fallback.ID),
			zap.Strings("scopes", fallback.Scopes),
			zap.Strings("required", c.RequiredScopes()))
		chosen = fallback
	}

	if err := c.db.WithContext(ctx).Model(&models.AccessCredential{}).
		Where("id = ?", chosen.ID).
		Update("last_used_at", now).Error; err != nil {
		c.logger.Warn("Failed to stamp credential last use", zap.Uint("credential_id", chosen.ID), zap.Error(err))
	} else {
		chosen.LastUsedAt = &now
	}

	return chosen, nil
}

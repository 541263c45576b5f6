// Package testsupport holds fixtures shared by package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ifuryst/reposter/internal/models"
)

// NewDB opens a migrated sqlite database that lives for the duration of t.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "reposter.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func CreateItem(t *testing.T, db *gorm.DB, item models.CandidateItem) models.CandidateItem {
	t.Helper()
	require.NoError(t, db.Create(&item).Error)
	return item
}

// CreateCredential stores an active credential with the given scopes.
func CreateCredential(t *testing.T, db *gorm.DB, name string, scopes ...string) models.AccessCredential {
	t.Helper()
	cred := models.AccessCredential{
		Name:   name,
		Token:  "token-" + name,
		Scopes: scopes,
		Active: true,
	}
	require.NoError(t, db.Create(&cred).Error)
	return cred
}

// MirroredPhotoItem is an item with one photo already copied to owned storage.
func MirroredPhotoItem(origin string, rank float64) models.CandidateItem {
	return models.CandidateItem{
		OriginID: origin,
		Rank:     rank,
		Text:     "item",
		Attachments: []models.Attachment{
			{Type: models.AttachmentPhoto, MediaID: "1_1", URL: "https://origin.example/1.jpg"},
		},
		MirroredMedia: []models.MirroredMedia{
			{Type: models.AttachmentPhoto, MediaID: "1_1", URL: "https://mirror.example/1.jpg"},
		},
	}
}

func CountHistory(t *testing.T, db *gorm.DB, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.HistoryRecord{}).Where(query, args...).Count(&n).Error)
	return n
}

package models

import "gorm.io/gorm"

// Migrate creates or updates every table the service reads or writes.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&PublishTask{},
		&HistoryRecord{},
		&CandidateItem{},
		&AccessCredential{},
	)
}

package logbook

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EntryRepository provides database operations for logbook entries
type EntryRepository struct {
	db *gorm.DB
}

// NewEntryRepository creates a new repository instance
func NewEntryRepository(db *gorm.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// Append stores a single entry
func (r *EntryRepository) Append(entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}
	if !entry.IsValid() {
		return fmt.Errorf("entry is not valid: direction=%q, size=%d", entry.Direction, entry.Size)
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	return r.db.Create(entry).Error
}

// Recent returns the newest entries, most recent first
func (r *EntryRepository) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := r.db.Order("at DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CountByDirection returns how many entries exist for a direction
func (r *EntryRepository) CountByDirection(direction string) (int64, error) {
	var count int64
	err := r.db.Model(&Entry{}).Where("direction = ?", direction).Count(&count).Error
	return count, err
}

// PruneBefore removes entries older than the cutoff and returns how
// many were deleted
func (r *EntryRepository) PruneBefore(cutoff time.Time) (int64, error) {
	result := r.db.Where("at < ?", cutoff).Delete(&Entry{})
	return result.RowsAffected, result.Error
}

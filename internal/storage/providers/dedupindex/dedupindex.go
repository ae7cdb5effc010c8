// Package dedupindex wraps another document store with a local SQLite index
// of already-stored fingerprints. Exists hits the index before falling back
// to the wrapped store, which keeps repeated syncs cheap against stores with
// slow lookups (network-backed ones in particular).
package dedupindex

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/kivra-sync/internal/document"
	"github.com/mrlokans/kivra-sync/internal/storage"
)

// StoredDocument is one indexed fingerprint.
type StoredDocument struct {
	ID          uint   `gorm:"primaryKey"`
	Fingerprint string `gorm:"uniqueIndex;not null"`
	Kind        string `gorm:"index"`
	DocumentKey string `gorm:"index"`
	StoredAt    time.Time
}

// Store decorates an underlying DocumentStore with the fingerprint index.
type Store struct {
	inner storage.DocumentStore
	db    *gorm.DB
}

// New opens (and migrates) the index database at dbPath.
func New(inner storage.DocumentStore, dbPath string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup index: %w", err)
	}
	if err := db.AutoMigrate(&StoredDocument{}); err != nil {
		return nil, fmt.Errorf("failed to migrate dedup index: %w", err)
	}
	return &Store{inner: inner, db: db}, nil
}

// ReportListing forwards to the wrapped store.
func (s *Store) ReportListing(kind document.Kind, listing json.RawMessage) error {
	return s.inner.ReportListing(kind, listing)
}

// Exists checks the index first, then the wrapped store. A hit in the
// wrapped store backfills the index.
func (s *Store) Exists(meta document.Metadata) bool {
	var count int64
	err := s.db.Model(&StoredDocument{}).
		Where("fingerprint = ?", meta.String()).
		Count(&count).Error
	if err != nil {
		log.Printf("Dedup index: lookup failed for %s: %v", meta.String(), err)
	} else if count > 0 {
		return true
	}

	if s.inner.Exists(meta) {
		s.record(meta)
		return true
	}
	return false
}

// ReportMetadata forwards to the wrapped store and indexes the fingerprint
// when the store accepted it.
func (s *Store) ReportMetadata(data json.RawMessage, meta document.Metadata) bool {
	if !s.inner.ReportMetadata(data, meta) {
		return false
	}
	s.record(meta)
	return true
}

// Store forwards to the wrapped store and indexes the fingerprint when the
// store accepted it.
func (s *Store) Store(content []byte, meta document.Metadata) bool {
	if !s.inner.Store(content, meta) {
		return false
	}
	s.record(meta)
	return true
}

func (s *Store) record(meta document.Metadata) {
	entry := StoredDocument{
		Fingerprint: meta.String(),
		Kind:        string(meta.Kind),
		DocumentKey: meta.Key,
		StoredAt:    time.Now(),
	}
	err := s.db.
		Where(StoredDocument{Fingerprint: entry.Fingerprint}).
		FirstOrCreate(&entry).Error
	if err != nil {
		log.Printf("Dedup index: could not record %s: %v", entry.Fingerprint, err)
	}
}

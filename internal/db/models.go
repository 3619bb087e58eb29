package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
// This ensures every record has a valid time-ordered ID before insertion.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// -----------------------------------------------------------------------------
// Content Store
// -----------------------------------------------------------------------------

// RawPayload is the Content Store's index row. The primary key is the SHA-256
// hash of the raw bytes, not a generated id, so that each hash has at most one
// index row; Submit looks the hash up and inserts or updates the row inside one
// transaction. The raw bytes themselves live on disk under
// content_store_path, keyed by the same hash; this row only tracks status.
type RawPayload struct {
	Hash         string     `gorm:"type:text;primaryKey"` // hex sha256 of raw bytes
	JobID        uuid.UUID  `gorm:"type:text;not null;index"`
	ScraperID    string     `gorm:"not null"`
	SourceURL    string     `gorm:"not null;default:''"`
	ScrapedAt    time.Time  `gorm:"not null"`
	Status       string     `gorm:"not null;default:'new'"` // new, pending, completed, failed
	ByteSize     int64      `gorm:"not null;default:0"`
	OutputRef    string     `gorm:"type:text;default:''"` // content-store key of the AlignedRecord blob
	ErrorKind    string     `gorm:"default:''"`
	CreatedAt    time.Time  `gorm:"not null"`
	UpdatedAt    time.Time  `gorm:"not null"`
}

// LLMJob is the schema for one unit of work handed to the LLM adapter, unique
// per content hash. No component creates or updates LLMJob rows: the job id
// and status of each hash are tracked on RawPayload (JobID, Status, ErrorKind).
type LLMJob struct {
	base
	ContentHash  string `gorm:"type:text;not null;uniqueIndex"`
	ProviderHint string `gorm:"default:''"`
	AttemptCount int    `gorm:"not null;default:0"`
	LastErrorKind string `gorm:"default:''"`
}

// -----------------------------------------------------------------------------
// Validator / rejection trail
// -----------------------------------------------------------------------------

// RejectionRecord persists a validator rejection for audit. Rejected jobs are
// acked (not DLQ'd) — the rejection itself is the terminal, expected outcome.
type RejectionRecord struct {
	base
	JobID       uuid.UUID `gorm:"type:text;not null;index"`
	ContentHash string    `gorm:"type:text;not null;index"`
	Score       int       `gorm:"not null"`
	RuleOutcomes string   `gorm:"type:text;not null;default:'[]'"` // JSON []RuleOutcome
	IsTestData  bool      `gorm:"not null;default:false"`
	RejectedAt  time.Time `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Canonical entities
// -----------------------------------------------------------------------------

// CanonicalOrganization is the canonical, merged organization record.
type CanonicalOrganization struct {
	base
	Name        string `gorm:"not null;index"`
	NameNorm    string `gorm:"not null;index"` // normalised for matching
	AlternateName string `gorm:"default:''"`
	Description string `gorm:"type:text;default:''"`
	Email       string `gorm:"default:''"`
	URL         string `gorm:"default:''"`
	TaxStatus   string `gorm:"default:''"`
	Active      bool   `gorm:"not null;default:true"`
}

// CanonicalLocation is a canonical location belonging to an organization.
type CanonicalLocation struct {
	base
	OrganizationID uuid.UUID `gorm:"type:text;not null;index"`
	Name           string    `gorm:"default:''"`
	AddressLine1   string    `gorm:"not null;default:''"`
	City           string    `gorm:"not null;default:''"`
	StateCode      string    `gorm:"not null;default:''"`
	PostalCode     string    `gorm:"default:''"`
	Latitude       float64   `gorm:"not null"`
	Longitude      float64   `gorm:"not null"`
	GeocodeProvider string   `gorm:"default:''"`
	GeocodePrecision string  `gorm:"default:''"`
}

// CanonicalService is a canonical service offered at an organization.
type CanonicalService struct {
	base
	OrganizationID uuid.UUID `gorm:"type:text;not null;index"`
	Name           string    `gorm:"not null"`
	NameNorm       string    `gorm:"not null;index"`
	Description    string    `gorm:"type:text;default:''"`
	Status         string    `gorm:"not null;default:'active'"`
}

// CanonicalServiceAtLocation is the join row between a service and a location
// it is delivered at, exported verbatim as service_at_locations.jsonl.
type CanonicalServiceAtLocation struct {
	base
	ServiceID  uuid.UUID `gorm:"type:text;not null;index"`
	LocationID uuid.UUID `gorm:"type:text;not null;index"`
}

// SourceRecord is the audit trail linking a canonical entity back to every
// scraper that has contributed to it. The composite (EntityKind, CanonicalID,
// ScraperID, SourceEntityID) is unique: one row per scraper contribution.
type SourceRecord struct {
	base
	EntityKind     string `gorm:"not null;index:idx_source_record_composite,unique"` // organization, location, service
	CanonicalID    uuid.UUID `gorm:"type:text;not null;index:idx_source_record_composite,unique"`
	ScraperID      string `gorm:"not null;index:idx_source_record_composite,unique"`
	SourceEntityID string `gorm:"not null;index:idx_source_record_composite,unique"`
	Fields         string `gorm:"type:text;not null;default:'{}'"` // JSON snapshot of the fields this source last reported
	ReportedAt     time.Time `gorm:"not null"`
}

// VersionEntry is an append-only log of canonical field changes, written by
// the reconciler's merge strategy whenever a winning value differs from the
// stored canonical value.
type VersionEntry struct {
	base
	EntityKind  string `gorm:"not null;index"`
	CanonicalID uuid.UUID `gorm:"type:text;not null;index"`
	FieldName   string `gorm:"not null"`
	OldValue    string `gorm:"type:text;default:''"`
	NewValue    string `gorm:"type:text;default:''"`
	Source      string `gorm:"not null"` // scraper id that won the merge
	ChangedAt   time.Time `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Reconciler advisory locks
// -----------------------------------------------------------------------------

// ReconcilerLock is a portable stand-in for a database advisory lock. GORM
// abstracts over both SQLite and Postgres, and SQLite has no pg_advisory_lock
// equivalent, so serialisation on (entity-kind, match-key) is expressed as an
// ordinary row with a conditional insert inside the enclosing transaction.
type ReconcilerLock struct {
	LockKey   string    `gorm:"type:text;primaryKey"` // "<entity-kind>:<match-key>"
	Holder    string    `gorm:"not null"`
	AcquiredAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Publisher
// -----------------------------------------------------------------------------

// PublisherRun records the state of one publish cycle, including the ratchet
// high-water mark so a future cycle can detect an accidental truncation.
type PublisherRun struct {
	base
	StartedAt         time.Time `gorm:"not null"`
	FinishedAt        *time.Time
	Status            string `gorm:"not null;default:'running'"` // running, succeeded, failed, aborted_ratchet
	RowCounts         string `gorm:"type:text;not null;default:'{}'"` // JSON map[string]int64
	CommitSHA         string `gorm:"default:''"`
	RatchetHighWater  string `gorm:"type:text;not null;default:'{}'"` // JSON map[string]int64
	FailureReason     string `gorm:"type:text;default:''"`
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

// Setting is a generic key-value configuration entry stored in the database,
// used for values that may be rotated without a redeploy (provider API keys).
// Sensitive values are encrypted at the application layer via EncryptedString.
type Setting struct {
	Key       string          `gorm:"primaryKey"`
	Value     EncryptedString `gorm:"type:text;not null"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime"`
}

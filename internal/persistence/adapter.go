package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/momiji-lab/kokoro/backend/internal/entries"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrRemoteUnavailable indicates the backing store could not be reached
	// for a read. An empty collection is not an error: a user with no
	// entries and a user whose entries have never been written are the same
	// observable outcome.
	ErrRemoteUnavailable = errors.New("persistence: remote store unavailable")
	// ErrSaveFailed indicates a full-collection replacement could not be
	// applied. The transaction guarantees the prior state is still observed.
	ErrSaveFailed = errors.New("persistence: save failed")

	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")

	noOpLogger = zap.NewNop()
)

const (
	opAdapterNew = "persistence.adapter.new"
	opLoad       = "persistence.load"
	opSave       = "persistence.save"
)

// AdapterError carries an operation code alongside the underlying cause.
type AdapterError struct {
	code string
	err  error
}

func (e *AdapterError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *AdapterError) Unwrap() error {
	return e.err
}

// Code returns the structured operation code for transport-level reporting.
func (e *AdapterError) Code() string {
	return e.code
}

func newAdapterError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &AdapterError{code: code, err: cause}
}

// AdapterConfig bundles the dependencies for the persistence adapter.
type AdapterConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Adapter synchronizes the full entry collection of a user with the backing
// store. Save is a full-collection reconciliation: remote rows absent from
// the passed collection are deleted, every passed entry is written. It is
// not safe to call Save concurrently for the same user without an external
// serialization point; the last transaction to commit wins wholesale.
type Adapter struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAdapter constructs the adapter after validating its dependencies.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if cfg.Database == nil {
		return nil, newAdapterError(opAdapterNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Adapter{db: cfg.Database, logger: logger}, nil
}

// Load fetches all entries belonging to the user. Ordering is left to the
// entry store.
func (a *Adapter) Load(ctx context.Context, userID string) ([]entries.Entry, error) {
	if userID == "" {
		a.logError(opLoad, "missing_user_id", errMissingUserID)
		return nil, newAdapterError(opLoad, "missing_user_id", errMissingUserID)
	}

	var records []Record
	if err := a.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&records).Error; err != nil {
		a.logError(opLoad, "query_failed", err, zap.String("user_id", userID))
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	loaded := make([]entries.Entry, 0, len(records))
	for _, record := range records {
		entry, err := record.toEntry()
		if err != nil {
			a.logError(opLoad, "decode_failed", err,
				zap.String("user_id", userID),
				zap.String("entry_id", record.EntryID))
			return nil, newAdapterError(opLoad, "decode_failed", err)
		}
		loaded = append(loaded, entry)
	}
	return loaded, nil
}

// Save replaces the remote record set for the user with exactly the given
// collection inside a single transaction: callers observe either the whole
// replacement or the prior state.
func (a *Adapter) Save(ctx context.Context, userID string, collection []entries.Entry) error {
	if userID == "" {
		a.logError(opSave, "missing_user_id", errMissingUserID)
		return newAdapterError(opSave, "missing_user_id", errMissingUserID)
	}

	records := make([]Record, 0, len(collection))
	keptIDs := make([]string, 0, len(collection))
	for _, entry := range collection {
		if entry.UserID != userID {
			err := fmt.Errorf("entry %s belongs to user %s", entry.ID, entry.UserID)
			a.logError(opSave, "foreign_entry", err, zap.String("user_id", userID))
			return newAdapterError(opSave, "foreign_entry", err)
		}
		record, err := recordFromEntry(entry)
		if err != nil {
			a.logError(opSave, "encode_failed", err,
				zap.String("user_id", userID),
				zap.String("entry_id", entry.ID))
			return newAdapterError(opSave, "encode_failed", err)
		}
		records = append(records, record)
		keptIDs = append(keptIDs, entry.ID)
	}

	txErr := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Where("user_id = ?", userID)
		if len(keptIDs) > 0 {
			stale = stale.Where("entry_id NOT IN ?", keptIDs)
		}
		if err := stale.Delete(&Record{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&records).Error
	})
	if txErr != nil {
		a.logError(opSave, "transaction_failed", txErr, zap.String("user_id", userID))
		return fmt.Errorf("%w: %v", ErrSaveFailed, txErr)
	}
	return nil
}

func (a *Adapter) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	a.logger.Error("persistence adapter error", attrs...)
}

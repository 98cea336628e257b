package backup

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// State is the persisted backup configuration for one profile; the
// registry keys profiles by user. Disconnecting clears the connection flag
// and document identifier but keeps the historical last-backup timestamp.
type State struct {
	Profile             string `gorm:"column:profile;primaryKey;size:190;not null"`
	Connected           bool   `gorm:"column:connected;not null;default:false"`
	SpreadsheetID       string `gorm:"column:spreadsheet_id;size:190;not null;default:''"`
	AutoBackup          bool   `gorm:"column:auto_backup;not null;default:false"`
	AutoBackupChosen    bool   `gorm:"column:auto_backup_chosen;not null;default:false"`
	LastBackupAtSeconds int64  `gorm:"column:last_backup_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (State) TableName() string {
	return "backup_state"
}

// StateStore loads and persists backup state. The adapter never reaches for
// ambient storage; it works against this interface so orchestration stays
// testable without a real medium.
type StateStore interface {
	Load(ctx context.Context, profile string) (State, bool, error)
	Save(ctx context.Context, state State) error
}

// GormStateStore persists backup state rows in the application database.
type GormStateStore struct {
	db *gorm.DB
}

// NewGormStateStore constructs the sqlite-backed state store.
func NewGormStateStore(db *gorm.DB) (*GormStateStore, error) {
	if db == nil {
		return nil, errors.New("backup: database handle is required")
	}
	return &GormStateStore{db: db}, nil
}

// Load fetches the state row for the profile. The second return value is
// false when the profile has never been connected.
func (s *GormStateStore) Load(ctx context.Context, profile string) (State, bool, error) {
	var state State
	err := s.db.WithContext(ctx).Where("profile = ?", profile).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return State{Profile: profile}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

// Save writes the state row, replacing any previous value for the profile.
func (s *GormStateStore) Save(ctx context.Context, state State) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&state).Error
}

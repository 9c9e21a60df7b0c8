package runlog

import (
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Repository persists pipeline runs and their log entries.
type Repository struct {
	Db     *gorm.DB
	logger zerolog.Logger
}

func NewRepository(db *gorm.DB, logger zerolog.Logger) *Repository {
	return &Repository{Db: db, logger: logger}
}

// Save writes the run and its entries.
func (slf *Repository) Save(run *Run) error {
	if err := slf.Db.Save(run).Error; err != nil {
		slf.logger.Error().Err(err).Str("runId", run.ID).Msg("Error saving pipeline run")
		return err
	}
	return nil
}

// FindByID retrieves a run with its entries.
func (slf *Repository) FindByID(id string) (*Run, error) {
	var run Run
	err := slf.Db.Preload("Entries").First(&run, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("pipeline run not found")
		}
		slf.logger.Error().Err(err).Str("runId", id).Msg("Error getting pipeline run")
		return nil, err
	}
	return &run, nil
}

// FindBySession lists runs for one session, newest first.
func (slf *Repository) FindBySession(sessionID string) ([]Run, error) {
	var runs []Run
	err := slf.Db.Where("session_id = ?", sessionID).Order("started_at DESC").Find(&runs).Error
	if err != nil {
		slf.logger.Error().Err(err).Str("sessionId", sessionID).Msg("Error getting pipeline runs")
		return nil, err
	}
	return runs, nil
}

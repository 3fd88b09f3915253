package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	queue    interfaces.QueueStorage
	listing  interfaces.ListingStorage
	match    interfaces.MatchStorage
	company  interfaces.CompanyStorage
	source   interfaces.SourceStorage
	settings interfaces.SettingsStorage
	cost     interfaces.CostStorage
	artifact interfaces.ArtifactStorage
	itemLog  interfaces.ItemLogStorage
	kv       interfaces.KVStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		queue:    NewQueueStorage(db, logger),
		listing:  NewListingStorage(db, logger),
		match:    NewMatchStorage(db, logger),
		company:  NewCompanyStorage(db, logger),
		source:   NewSourceStorage(db, logger),
		settings: NewSettingsStorage(db, logger),
		cost:     NewCostStorage(db, logger),
		artifact: NewArtifactStorage(db, logger),
		itemLog:  NewItemLogStorage(db, logger),
		kv:       NewKVStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// QueueStorage returns the queue item storage interface
func (m *Manager) QueueStorage() interfaces.QueueStorage {
	return m.queue
}

// ListingStorage returns the job listing storage interface
func (m *Manager) ListingStorage() interfaces.ListingStorage {
	return m.listing
}

// MatchStorage returns the job match storage interface
func (m *Manager) MatchStorage() interfaces.MatchStorage {
	return m.match
}

// CompanyStorage returns the company storage interface
func (m *Manager) CompanyStorage() interfaces.CompanyStorage {
	return m.company
}

// SourceStorage returns the job source storage interface
func (m *Manager) SourceStorage() interfaces.SourceStorage {
	return m.source
}

// SettingsStorage returns the config entry storage interface
func (m *Manager) SettingsStorage() interfaces.SettingsStorage {
	return m.settings
}

// CostStorage returns the cost ledger storage interface
func (m *Manager) CostStorage() interfaces.CostStorage {
	return m.cost
}

// ArtifactStorage returns the artifact storage interface
func (m *Manager) ArtifactStorage() interfaces.ArtifactStorage {
	return m.artifact
}

// ItemLogStorage returns the per-item log storage interface
func (m *Manager) ItemLogStorage() interfaces.ItemLogStorage {
	return m.itemLog
}

// KVStorage returns the key/value storage interface
func (m *Manager) KVStorage() interfaces.KVStorage {
	return m.kv
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

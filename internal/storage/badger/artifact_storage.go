// -----------------------------------------------------------------------
// Artifact Storage - Generated application documents
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// ArtifactStorage implements the ArtifactStorage interface for Badger
type ArtifactStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewArtifactStorage creates a new ArtifactStorage instance
func NewArtifactStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ArtifactStorage {
	return &ArtifactStorage{
		db:     db,
		logger: logger,
	}
}

// SaveArtifact inserts or replaces an artifact.
func (s *ArtifactStorage) SaveArtifact(ctx context.Context, artifact *models.Artifact) error {
	if err := artifact.Validate(); err != nil {
		return fmt.Errorf("invalid artifact: %w", err)
	}

	if err := s.db.Store().Upsert(artifact.ID, artifact); err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// GetArtifact loads one artifact by id.
func (s *ArtifactStorage) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	var artifact models.Artifact
	err := s.db.Store().Get(id, &artifact)
	if err == badgerhold.ErrNotFound {
		return nil, fmt.Errorf("artifact %s: %w", id, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &artifact, nil
}

// ListArtifactsByMatch returns a match's artifacts, newest first.
func (s *ArtifactStorage) ListArtifactsByMatch(ctx context.Context, jobMatchID string) ([]*models.Artifact, error) {
	var artifacts []models.Artifact
	if err := s.db.Store().Find(&artifacts, badgerhold.Where("JobMatchID").Eq(jobMatchID).SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	out := make([]*models.Artifact, len(artifacts))
	for i := range artifacts {
		out[i] = &artifacts[i]
	}
	return out, nil
}

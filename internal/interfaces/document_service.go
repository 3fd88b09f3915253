package interfaces

import (
	"context"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// DocumentService generates application documents for saved matches and
// serves them back in markdown or rendered HTML.
type DocumentService interface {
	// GenerateResumeIntake produces the structured resume tailoring notes
	// for a match and stores them as an artifact.
	GenerateResumeIntake(ctx context.Context, jobMatchID string) (*models.Artifact, error)

	// GenerateCoverLetter drafts a cover letter for a match and stores it
	// as an artifact.
	GenerateCoverLetter(ctx context.Context, jobMatchID string) (*models.Artifact, error)

	// GetArtifact returns a stored artifact by id.
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)

	// ListByMatch returns all artifacts generated for a match.
	ListByMatch(ctx context.Context, jobMatchID string) ([]*models.Artifact, error)
}

// -----------------------------------------------------------------------
// Artifact - Generated application document for a saved match
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ArtifactKind identifies what kind of document was generated.
type ArtifactKind string

const (
	ArtifactResumeIntake ArtifactKind = "RESUME_INTAKE"
	ArtifactCoverLetter  ArtifactKind = "COVER_LETTER"
)

// Artifact is a generated markdown document tied to a job match, with a
// rendered HTML preview for the UI. PDF rendering is out of scope; markdown
// is the canonical form.
type Artifact struct {
	ID              string       `json:"id" badgerhold:"key"`
	JobMatchID      string       `json:"job_match_id" badgerhold:"index"`
	JobListingID    string       `json:"job_listing_id" badgerhold:"index"`
	Kind            ArtifactKind `json:"kind"`
	ContentMarkdown string       `json:"content_markdown"`
	ContentHTML     string       `json:"content_html,omitempty"`
	GeneratedBy     string       `json:"generated_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// NewArtifact creates an artifact shell; the documents service fills the
// content fields.
func NewArtifact(jobMatchID, jobListingID string, kind ArtifactKind) *Artifact {
	now := time.Now()
	return &Artifact{
		ID:           "art_" + uuid.New().String(),
		JobMatchID:   jobMatchID,
		JobListingID: jobListingID,
		Kind:         kind,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Validate checks required fields before persistence.
func (a *Artifact) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("artifact ID is required")
	}
	if a.JobMatchID == "" {
		return fmt.Errorf("artifact match ID is required")
	}
	if a.Kind == "" {
		return fmt.Errorf("artifact kind is required")
	}
	return nil
}

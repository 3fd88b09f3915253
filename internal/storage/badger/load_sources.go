package badger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// SourceFile represents a job source in TOML format.
// Format:
//
//	[source_name]
//	type = "GREENHOUSE"
//	enabled = true
//	[source_name.config]
//	board_token = "acme"
type SourceFile struct {
	Type    string                 `toml:"type"`
	Enabled *bool                  `toml:"enabled"`
	Config  map[string]interface{} `toml:"config"`
}

// LoadSourcesFromFiles seeds job sources from TOML files in dirPath. The
// section name doubles as the source id, so re-running after edits updates
// in place without duplicating. Health counters on existing sources are
// preserved.
func LoadSourcesFromFiles(ctx context.Context, sourceStorage interfaces.SourceStorage, dirPath string, logger arbor.ILogger) error {
	logger.Debug().Str("dir", dirPath).Msg("Loading job sources from files")

	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		logger.Debug().Str("dir", dirPath).Msg("Sources directory does not exist, skipping")
		return nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		logger.Warn().Err(err).Str("dir", dirPath).Msg("Failed to read sources directory")
		return nil // Non-fatal
	}

	validTypes := map[models.SourceType]bool{
		models.SourceTypeGreenhouse:  true,
		models.SourceTypeLever:       true,
		models.SourceTypeWorkday:     true,
		models.SourceTypeRSS:         true,
		models.SourceTypeAPI:         true,
		models.SourceTypeHTML:        true,
		models.SourceTypeCompanyPage: true,
	}

	loadedCount := 0
	skippedCount := 0
	errorCount := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		filePath := filepath.Join(dirPath, entry.Name())
		content, err := os.ReadFile(filePath)
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to read source file")
			errorCount++
			continue
		}

		var sources map[string]SourceFile
		if err := toml.Unmarshal(content, &sources); err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse source file")
			errorCount++
			continue
		}

		for name, srcFile := range sources {
			sourceType := models.SourceType(strings.ToUpper(srcFile.Type))
			if !validTypes[sourceType] {
				logger.Warn().
					Str("file", entry.Name()).
					Str("source", name).
					Str("type", srcFile.Type).
					Msg("Skipping source: unknown type")
				skippedCount++
				continue
			}

			enabled := true
			if srcFile.Enabled != nil {
				enabled = *srcFile.Enabled
			}

			config := srcFile.Config
			if config == nil {
				config = make(map[string]interface{})
			}

			now := time.Now()
			source := &models.JobSource{
				ID:        name,
				Name:      name,
				Type:      sourceType,
				Config:    config,
				Enabled:   enabled,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := source.Validate(); err != nil {
				logger.Warn().Err(err).
					Str("file", entry.Name()).
					Str("source", name).
					Msg("Skipping source: validation failed")
				skippedCount++
				continue
			}

			existing, err := sourceStorage.GetSource(ctx, name)
			if err == nil && existing != nil {
				// Re-seed updates config/type/enabled but keeps the
				// scrape history and circuit breaker state.
				_, err := sourceStorage.UpdateSource(ctx, name, func(s *models.JobSource) {
					s.Type = sourceType
					s.Config = config
					s.Enabled = enabled
					s.UpdatedAt = now
				})
				if err != nil {
					logger.Warn().Err(err).Str("source", name).Msg("Failed to update source")
					errorCount++
					continue
				}
				logger.Debug().Str("source", name).Str("type", string(sourceType)).Msg("Updated existing source")
			} else {
				if err := sourceStorage.SaveSource(ctx, source); err != nil {
					logger.Warn().Err(err).Str("source", name).Msg("Failed to save source")
					errorCount++
					continue
				}
				logger.Debug().Str("source", name).Str("type", string(sourceType)).Msg("Loaded new source")
			}

			loadedCount++
		}
	}

	logger.Info().
		Int("loaded", loadedCount).
		Int("skipped", skippedCount).
		Int("errors", errorCount).
		Msg("Finished loading job sources from files")

	return nil
}

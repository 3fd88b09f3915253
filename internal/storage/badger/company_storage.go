// -----------------------------------------------------------------------
// Company Storage - Employers keyed on canonical name
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// CompanyStorage implements the CompanyStorage interface for Badger
type CompanyStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCompanyStorage creates a new CompanyStorage instance
func NewCompanyStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CompanyStorage {
	return &CompanyStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertCompany inserts or updates by canonical name inside one transaction.
// An existing row keeps its ID, CreatedAt and any enrichment the incoming
// record lacks.
func (s *CompanyStorage) UpsertCompany(ctx context.Context, company *models.Company) (*models.Company, error) {
	if err := company.Validate(); err != nil {
		return nil, fmt.Errorf("invalid company: %w", err)
	}

	store := s.db.Store()
	var stored *models.Company

	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		var existing []models.Company
		if err := store.TxFind(txn, &existing, badgerhold.Where("CanonicalName").Eq(company.CanonicalName).Limit(1)); err != nil {
			return fmt.Errorf("failed to find company by canonical name: %w", err)
		}

		if len(existing) == 0 {
			if err := store.TxInsert(txn, company.ID, company); err != nil {
				return fmt.Errorf("failed to insert company: %w", err)
			}
			stored = company
			return nil
		}

		row := existing[0]
		if company.Name != "" {
			row.Name = company.Name
		}
		if company.Website != "" {
			row.Website = company.Website
		}
		if company.About != "" {
			row.About = company.About
		}
		if len(company.TechStack) > 0 {
			row.TechStack = company.TechStack
		}
		if company.Tier != "" {
			row.Tier = company.Tier
		}
		if company.PriorityScore != 0 {
			row.PriorityScore = company.PriorityScore
		}
		if company.HasPortlandOffice {
			row.HasPortlandOffice = true
		}
		if company.EnrichedAt != nil {
			row.EnrichedAt = company.EnrichedAt
			row.EnrichmentSource = company.EnrichmentSource
		}
		row.UpdatedAt = company.UpdatedAt

		if err := store.TxUpdate(txn, row.ID, &row); err != nil {
			return fmt.Errorf("failed to update company: %w", err)
		}
		stored = &row
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

// UpdateCompany applies mutate to the company inside a transaction.
func (s *CompanyStorage) UpdateCompany(ctx context.Context, id string, mutate func(*models.Company)) (*models.Company, error) {
	store := s.db.Store()
	var updated *models.Company

	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		var company models.Company
		if err := store.TxGet(txn, id, &company); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("company %s: %w", id, interfaces.ErrNotFound)
			}
			return fmt.Errorf("failed to load company %s: %w", id, err)
		}

		mutate(&company)

		if err := store.TxUpdate(txn, id, &company); err != nil {
			return fmt.Errorf("failed to update company %s: %w", id, err)
		}
		updated = &company
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// GetCompany loads one company by id.
func (s *CompanyStorage) GetCompany(ctx context.Context, id string) (*models.Company, error) {
	var company models.Company
	err := s.db.Store().Get(id, &company)
	if err == badgerhold.ErrNotFound {
		return nil, fmt.Errorf("company %s: %w", id, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &company, nil
}

// GetCompanyByCanonicalName loads one company by its canonical name.
func (s *CompanyStorage) GetCompanyByCanonicalName(ctx context.Context, canonicalName string) (*models.Company, error) {
	var companies []models.Company
	if err := s.db.Store().Find(&companies, badgerhold.Where("CanonicalName").Eq(canonicalName).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to find company by canonical name: %w", err)
	}
	if len(companies) == 0 {
		return nil, fmt.Errorf("company %s: %w", canonicalName, interfaces.ErrNotFound)
	}
	return &companies[0], nil
}

// ListCompanies returns companies, newest first.
func (s *CompanyStorage) ListCompanies(ctx context.Context, limit, offset int) ([]*models.Company, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()
	if offset > 0 {
		query = query.Skip(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var companies []models.Company
	if err := s.db.Store().Find(&companies, query); err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}

	out := make([]*models.Company, len(companies))
	for i := range companies {
		out[i] = &companies[i]
	}
	return out, nil
}

// CountCompanies returns the total number of companies.
func (s *CompanyStorage) CountCompanies(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Company{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count companies: %w", err)
	}
	return int(count), nil
}

package datastore

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the repositories over one *gorm.DB. Inside Transaction the
// repositories share the transaction handle, so everything they write
// commits or rolls back together.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying handle, which is the open transaction inside Transaction.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn in a database transaction. Returning an error rolls it back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Identifications returns the identification repository.
func (s *Store) Identifications() IdentificationRepository {
	return NewIdentificationRepository(s.db)
}

// Observations returns the observation repository.
func (s *Store) Observations() ObservationRepository {
	return NewObservationRepository(s.db)
}

// QualityMetrics returns the quality metric repository.
func (s *Store) QualityMetrics() QualityMetricRepository {
	return NewQualityMetricRepository(s.db)
}

// Reviews returns the observation review repository.
func (s *Store) Reviews() ReviewRepository {
	return NewReviewRepository(s.db)
}

// Users returns the user repository.
func (s *Store) Users() UserRepository {
	return NewUserRepository(s.db)
}

// Projects returns the project repository.
func (s *Store) Projects() ProjectRepository {
	return NewProjectRepository(s.db)
}

// Taxa returns the local taxa table.
func (s *Store) Taxa() *TaxonRepository {
	return NewTaxonRepository(s.db)
}

// Outbox returns the effect outbox repository.
func (s *Store) Outbox() OutboxRepository {
	return NewOutboxRepository(s.db)
}

// Requests returns the repository for reducer-written rows.
func (s *Store) Requests() RequestRepository {
	return NewRequestRepository(s.db)
}

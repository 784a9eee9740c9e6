package balance

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// QueryPort abstracts the read side of the repository.
type QueryPort interface {
	Find(ctx context.Context, filter Filter) ([]Record, error)
}

// Service answers balance lookups. Concurrent identical lookups are
// collapsed through singleflight since allocation planning fans out over
// the same item pools.
type Service struct {
	repo  QueryPort
	group singleflight.Group
}

// NewService builds Service.
func NewService(repo QueryPort) *Service {
	return &Service{repo: repo}
}

// Find returns all records matching the filter. No match yields an empty
// slice; callers treat that as zero available stock.
func (s *Service) Find(ctx context.Context, filter Filter) ([]Record, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("balance: service not initialised")
	}
	key := fmt.Sprintf("%s|%d|%d|%d|%d|%s|%s", filter.shape(), filter.MaterialID, filter.PlantID, filter.OrganizationID, filter.LocationID, filter.BatchID, filter.SerialNumber)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.repo.Find(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	records, _ := v.([]Record)
	return records, nil
}

// FindOne returns the single record for a fully qualified key. The second
// return reports whether the record exists.
func (s *Service) FindOne(ctx context.Context, key Key) (Record, bool, error) {
	records, err := s.Find(ctx, Filter{
		MaterialID:     key.MaterialID,
		PlantID:        key.PlantID,
		OrganizationID: key.OrganizationID,
		LocationID:     key.LocationID,
		BatchID:        key.BatchID,
		SerialNumber:   key.SerialNumber,
	})
	if err != nil {
		return Record{}, false, err
	}
	for _, rec := range records {
		if rec.Key == key {
			return rec, true, nil
		}
	}
	return Record{Key: key}, false, nil
}

package plants

import (
	"context"

	"github.com/atlas-wms/atlas-wms/internal/masterdata/shared"
)

// Service coordinates plant master lookups.
type Service struct {
	repo Repository
}

// NewService builds Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Plant, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Plant, error) {
	if id <= 0 {
		return Plant{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

// CommonBin returns the plant's fallback putaway bin.
func (s *Service) CommonBin(ctx context.Context, plantID int64) (int64, error) {
	plant, err := s.Get(ctx, plantID)
	if err != nil {
		return 0, err
	}
	if plant.CommonBinID <= 0 {
		return 0, ErrNoCommonBin
	}
	return plant.CommonBinID, nil
}

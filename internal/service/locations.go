package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/kjstillabower/cropsense-service/internal/models"
	"github.com/kjstillabower/cropsense-service/internal/observability"
	"github.com/kjstillabower/cropsense-service/internal/validation"
)

// LocationRepository persists farm locations. *store.Locations satisfies it.
type LocationRepository interface {
	List(ctx context.Context, userID string) ([]models.FarmLocation, error)
	Get(ctx context.Context, userID string, id int64) (models.FarmLocation, error)
	Create(ctx context.Context, loc models.FarmLocation) (models.FarmLocation, error)
	Update(ctx context.Context, loc models.FarmLocation) (models.FarmLocation, error)
	Delete(ctx context.Context, userID string, id int64) error
	SetDefault(ctx context.Context, userID string, id int64) (models.FarmLocation, error)
}

// LocationService manages a user's saved farm locations.
type LocationService struct {
	repo   LocationRepository
	logger *zap.Logger
}

func NewLocationService(repo LocationRepository, logger *zap.Logger) *LocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocationService{repo: repo, logger: logger}
}

func (s *LocationService) List(ctx context.Context, userID string) ([]models.FarmLocation, error) {
	return s.repo.List(ctx, userID)
}

func (s *LocationService) Get(ctx context.Context, userID string, id int64) (models.FarmLocation, error) {
	return s.repo.Get(ctx, userID, id)
}

// Create validates in and saves it for userID. A default location replaces the
// user's previous default.
func (s *LocationService) Create(ctx context.Context, userID string, in validation.LocationInput) (models.FarmLocation, error) {
	in.Normalize()
	if err := validation.ValidateLocationInput(in); err != nil {
		return models.FarmLocation{}, err
	}
	loc, err := s.repo.Create(ctx, toLocation(userID, 0, in))
	if err != nil {
		return models.FarmLocation{}, err
	}
	observability.LoggerFromContext(ctx, s.logger).Info("location created",
		zap.Int64("location_id", loc.ID), zap.Bool("is_default", loc.IsDefault))
	return loc, nil
}

// Update replaces every mutable field of location id.
func (s *LocationService) Update(ctx context.Context, userID string, id int64, in validation.LocationInput) (models.FarmLocation, error) {
	in.Normalize()
	if err := validation.ValidateLocationInput(in); err != nil {
		return models.FarmLocation{}, err
	}
	return s.repo.Update(ctx, toLocation(userID, id, in))
}

func (s *LocationService) Delete(ctx context.Context, userID string, id int64) error {
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	observability.LoggerFromContext(ctx, s.logger).Info("location deleted", zap.Int64("location_id", id))
	return nil
}

// SetDefault makes id the user's only default location.
func (s *LocationService) SetDefault(ctx context.Context, userID string, id int64) (models.FarmLocation, error) {
	return s.repo.SetDefault(ctx, userID, id)
}

func toLocation(userID string, id int64, in validation.LocationInput) models.FarmLocation {
	return models.FarmLocation{
		ID:        id,
		UserID:    userID,
		Name:      in.Name,
		City:      in.City,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		IsDefault: in.IsDefault,
	}
}

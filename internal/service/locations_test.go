package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/cropsense-service/internal/apperr"
	"github.com/kjstillabower/cropsense-service/internal/models"
	"github.com/kjstillabower/cropsense-service/internal/validation"
)

type fakeRepo struct {
	created []models.FarmLocation
	updated []models.FarmLocation
	missing bool
}

func (r *fakeRepo) List(ctx context.Context, userID string) ([]models.FarmLocation, error) {
	return r.created, nil
}

func (r *fakeRepo) Get(ctx context.Context, userID string, id int64) (models.FarmLocation, error) {
	if r.missing {
		return models.FarmLocation{}, fmt.Errorf("%w: location %d", apperr.ErrNotFound, id)
	}
	return models.FarmLocation{ID: id, UserID: userID}, nil
}

func (r *fakeRepo) Create(ctx context.Context, loc models.FarmLocation) (models.FarmLocation, error) {
	loc.ID = int64(len(r.created) + 1)
	r.created = append(r.created, loc)
	return loc, nil
}

func (r *fakeRepo) Update(ctx context.Context, loc models.FarmLocation) (models.FarmLocation, error) {
	if r.missing {
		return models.FarmLocation{}, fmt.Errorf("%w: location %d", apperr.ErrNotFound, loc.ID)
	}
	r.updated = append(r.updated, loc)
	return loc, nil
}

func (r *fakeRepo) Delete(ctx context.Context, userID string, id int64) error {
	if r.missing {
		return fmt.Errorf("%w: location %d", apperr.ErrNotFound, id)
	}
	return nil
}

func (r *fakeRepo) SetDefault(ctx context.Context, userID string, id int64) (models.FarmLocation, error) {
	return models.FarmLocation{ID: id, UserID: userID, IsDefault: true}, nil
}

func TestLocationService_Create(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	repo := &fakeRepo{}
	svc := NewLocationService(repo, zap.New(core))

	loc, err := svc.Create(context.Background(), "farmer", validation.LocationInput{
		Name:      "  North field ",
		Latitude:  f64(0),
		Longitude: f64(0),
		IsDefault: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if loc.UserID != "farmer" || loc.Name != "North field" || !loc.IsDefault {
		t.Errorf("Create() = %+v", loc)
	}
	if !loc.HasCoordinates() {
		t.Error("zero coordinates were dropped")
	}
	if logs.FilterMessage("location created").Len() != 1 {
		t.Error("expected a location created log entry")
	}
}

func TestLocationService_CreateValidation(t *testing.T) {
	tests := []struct {
		name string
		in   validation.LocationInput
	}{
		{name: "missing name", in: validation.LocationInput{City: "Pune"}},
		{name: "no city or coordinates", in: validation.LocationInput{Name: "Plot"}},
		{name: "only latitude", in: validation.LocationInput{Name: "Plot", Latitude: f64(10)}},
		{name: "latitude out of range", in: validation.LocationInput{Name: "Plot", Latitude: f64(95), Longitude: f64(0)}},
		{name: "bad city characters", in: validation.LocationInput{Name: "Plot", City: "Pune; DROP"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{}
			svc := NewLocationService(repo, nil)
			_, err := svc.Create(context.Background(), "farmer", tt.in)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("Create() error = %v, want ErrValidation", err)
			}
			if len(repo.created) != 0 {
				t.Error("invalid location was saved")
			}
		})
	}
}

func TestLocationService_Update(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewLocationService(repo, nil)

	loc, err := svc.Update(context.Background(), "farmer", 7, validation.LocationInput{Name: "Orchard", City: "Nashik"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if loc.ID != 7 || loc.UserID != "farmer" || loc.City != "Nashik" {
		t.Errorf("Update() = %+v", loc)
	}

	repo.missing = true
	_, err = svc.Update(context.Background(), "farmer", 8, validation.LocationInput{Name: "Orchard", City: "Nashik"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLocationService_DeleteMissing(t *testing.T) {
	svc := NewLocationService(&fakeRepo{missing: true}, nil)
	if err := svc.Delete(context.Background(), "farmer", 3); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

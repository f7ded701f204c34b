package store

import (
	"context"
	"errors"
	"testing"

	"github.com/kjstillabower/cropsense-service/internal/apperr"
	"github.com/kjstillabower/cropsense-service/internal/models"
)

func TestLocations_CreateGetList(t *testing.T) {
	ctx := context.Background()
	repo := NewLocations(newTestDB(t))

	created, err := repo.Create(ctx, models.FarmLocation{UserID: "asha", Name: "North field", Latitude: f64(0), Longitude: f64(0)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == 0 || created.CreatedAt.IsZero() {
		t.Fatalf("Create = %+v, want id and created_at", created)
	}
	if _, err := repo.Create(ctx, models.FarmLocation{UserID: "asha", Name: "Orchard", City: "Nashik"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.Create(ctx, models.FarmLocation{UserID: "ravi", Name: "Other", City: "Pune"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(ctx, "asha", created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.HasCoordinates() || *got.Latitude != 0 || *got.Longitude != 0 {
		t.Errorf("Get coordinates = (%v, %v), want zero coordinates kept", got.Latitude, got.Longitude)
	}

	list, err := repo.List(ctx, "asha")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Name != "North field" || list[1].Latitude != nil {
		t.Errorf("List = %+v", list)
	}
}

func TestLocations_GetOtherUser(t *testing.T) {
	ctx := context.Background()
	repo := NewLocations(newTestDB(t))
	loc, _ := repo.Create(ctx, models.FarmLocation{UserID: "asha", Name: "Home", City: "Pune"})

	if _, err := repo.Get(ctx, "ravi", loc.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get other user error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, "ravi", loc.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Delete other user error = %v, want ErrNotFound", err)
	}
}

// TestLocations_SingleDefault verifies every path that sets a default leaves exactly one.
func TestLocations_SingleDefault(t *testing.T) {
	ctx := context.Background()
	repo := NewLocations(newTestDB(t))

	a, _ := repo.Create(ctx, models.FarmLocation{UserID: "asha", Name: "A", City: "Pune", IsDefault: true})
	b, _ := repo.Create(ctx, models.FarmLocation{UserID: "asha", Name: "B", City: "Nashik", IsDefault: true})
	other, _ := repo.Create(ctx, models.FarmLocation{UserID: "ravi", Name: "R", City: "Satara", IsDefault: true})
	assertDefault(t, repo, "asha", b.ID)

	if _, err := repo.SetDefault(ctx, "asha", a.ID); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	assertDefault(t, repo, "asha", a.ID)

	b.IsDefault = true
	b.Name = "B renamed"
	updated, err := repo.Update(ctx, b)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "B renamed" || !updated.IsDefault {
		t.Errorf("Update = %+v", updated)
	}
	assertDefault(t, repo, "asha", b.ID)
	assertDefault(t, repo, "ravi", other.ID)

	if _, err := repo.SetDefault(ctx, "asha", 9999); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("SetDefault unknown id error = %v, want ErrNotFound", err)
	}
	assertDefault(t, repo, "asha", b.ID)
}

func assertDefault(t *testing.T, repo *Locations, user string, wantID int64) {
	t.Helper()
	list, err := repo.List(context.Background(), user)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	n := 0
	for _, l := range list {
		if l.IsDefault {
			n++
			if l.ID != wantID {
				t.Errorf("default for %s = %d, want %d", user, l.ID, wantID)
			}
		}
	}
	if n != 1 {
		t.Errorf("defaults for %s = %d, want 1", user, n)
	}
	def, ok, err := repo.Default(context.Background(), user)
	if err != nil || !ok || def.ID != wantID {
		t.Errorf("Default(%s) = (%d, %v, %v), want %d", user, def.ID, ok, err, wantID)
	}
}

func TestLocations_NoDefault(t *testing.T) {
	repo := NewLocations(newTestDB(t))
	if _, ok, err := repo.Default(context.Background(), "asha"); ok || err != nil {
		t.Errorf("Default = (_, %v, %v), want (false, nil)", ok, err)
	}
}

func TestLocations_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewLocations(newTestDB(t))
	loc, _ := repo.Create(ctx, models.FarmLocation{UserID: "asha", Name: "Home", City: "Pune"})

	if err := repo.Delete(ctx, "asha", loc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, "asha", loc.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
}

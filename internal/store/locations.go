package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kjstillabower/cropsense-service/internal/apperr"
	"github.com/kjstillabower/cropsense-service/internal/models"
)

// Locations stores farm locations. Every query is scoped to one user.
type Locations struct {
	db  *DB
	now func() time.Time
}

func NewLocations(db *DB) *Locations {
	return &Locations{db: db, now: time.Now}
}

type locationRow struct {
	ID        int64           `db:"id"`
	UserID    string          `db:"user_id"`
	Name      string          `db:"name"`
	City      string          `db:"city"`
	Latitude  sql.NullFloat64 `db:"latitude"`
	Longitude sql.NullFloat64 `db:"longitude"`
	IsDefault bool            `db:"is_default"`
	CreatedAt int64           `db:"created_at"`
}

func (r locationRow) model() models.FarmLocation {
	loc := models.FarmLocation{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		City:      r.City,
		IsDefault: r.IsDefault,
		CreatedAt: fromMillis(r.CreatedAt),
	}
	if r.Latitude.Valid {
		v := r.Latitude.Float64
		loc.Latitude = &v
	}
	if r.Longitude.Valid {
		v := r.Longitude.Float64
		loc.Longitude = &v
	}
	return loc
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

const locationColumns = `id, user_id, name, city, latitude, longitude, is_default, created_at`

// List returns the user's locations, oldest first.
func (l *Locations) List(ctx context.Context, userID string) ([]models.FarmLocation, error) {
	var rows []locationRow
	err := l.db.selectRows(ctx, "locations_list", &rows,
		`SELECT `+locationColumns+` FROM farm_locations WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	out := make([]models.FarmLocation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (l *Locations) Get(ctx context.Context, userID string, id int64) (models.FarmLocation, error) {
	var row locationRow
	err := l.db.get(ctx, "locations_get", &row,
		`SELECT `+locationColumns+` FROM farm_locations WHERE user_id = ? AND id = ?`, userID, id)
	if isNoRows(err) {
		return models.FarmLocation{}, fmt.Errorf("%w: location %d", apperr.ErrNotFound, id)
	}
	if err != nil {
		return models.FarmLocation{}, fmt.Errorf("get location: %w", err)
	}
	return row.model(), nil
}

// Default returns the user's default location; found is false when none is set.
func (l *Locations) Default(ctx context.Context, userID string) (models.FarmLocation, bool, error) {
	var row locationRow
	err := l.db.get(ctx, "locations_default", &row,
		`SELECT `+locationColumns+` FROM farm_locations WHERE user_id = ? AND is_default = ? ORDER BY id LIMIT 1`,
		userID, true)
	if isNoRows(err) {
		return models.FarmLocation{}, false, nil
	}
	if err != nil {
		return models.FarmLocation{}, false, fmt.Errorf("get default location: %w", err)
	}
	return row.model(), true, nil
}

// Create inserts loc for loc.UserID. When loc.IsDefault is set, the user's other
// defaults are cleared in the same transaction.
func (l *Locations) Create(ctx context.Context, loc models.FarmLocation) (models.FarmLocation, error) {
	loc.CreatedAt = l.now().UTC()
	err := l.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if loc.IsDefault {
			if err := l.clearDefaults(ctx, tx, loc.UserID, 0); err != nil {
				return err
			}
		}
		start := time.Now()
		err := tx.QueryRowxContext(ctx, l.db.rebind(`
			INSERT INTO farm_locations (user_id, name, city, latitude, longitude, is_default, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			loc.UserID, loc.Name, loc.City, nullFloat(loc.Latitude), nullFloat(loc.Longitude), loc.IsDefault, toMillis(loc.CreatedAt),
		).Scan(&loc.ID)
		observe("locations_insert", start)
		if err != nil {
			return fmt.Errorf("insert location: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.FarmLocation{}, err
	}
	loc.CreatedAt = fromMillis(toMillis(loc.CreatedAt))
	return loc, nil
}

// Update replaces the mutable fields of an existing location.
func (l *Locations) Update(ctx context.Context, loc models.FarmLocation) (models.FarmLocation, error) {
	err := l.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if loc.IsDefault {
			if err := l.clearDefaults(ctx, tx, loc.UserID, loc.ID); err != nil {
				return err
			}
		}
		start := time.Now()
		res, err := tx.ExecContext(ctx, l.db.rebind(`
			UPDATE farm_locations SET name = ?, city = ?, latitude = ?, longitude = ?, is_default = ?
			WHERE user_id = ? AND id = ?`),
			loc.Name, loc.City, nullFloat(loc.Latitude), nullFloat(loc.Longitude), loc.IsDefault, loc.UserID, loc.ID,
		)
		observe("locations_update", start)
		if err != nil {
			return fmt.Errorf("update location: %w", err)
		}
		return requireRow(res, loc.ID)
	})
	if err != nil {
		return models.FarmLocation{}, err
	}
	return l.Get(ctx, loc.UserID, loc.ID)
}

func (l *Locations) Delete(ctx context.Context, userID string, id int64) error {
	res, err := l.db.exec(ctx, "locations_delete",
		`DELETE FROM farm_locations WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	return requireRow(res, id)
}

// SetDefault makes id the user's only default location.
func (l *Locations) SetDefault(ctx context.Context, userID string, id int64) (models.FarmLocation, error) {
	err := l.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := l.clearDefaults(ctx, tx, userID, id); err != nil {
			return err
		}
		start := time.Now()
		res, err := tx.ExecContext(ctx, l.db.rebind(
			`UPDATE farm_locations SET is_default = ? WHERE user_id = ? AND id = ?`), true, userID, id)
		observe("locations_set_default", start)
		if err != nil {
			return fmt.Errorf("set default location: %w", err)
		}
		return requireRow(res, id)
	})
	if err != nil {
		return models.FarmLocation{}, err
	}
	return l.Get(ctx, userID, id)
}

// clearDefaults unsets is_default on all of the user's locations except keepID.
func (l *Locations) clearDefaults(ctx context.Context, tx *sqlx.Tx, userID string, keepID int64) error {
	start := time.Now()
	_, err := tx.ExecContext(ctx, l.db.rebind(
		`UPDATE farm_locations SET is_default = ? WHERE user_id = ? AND is_default = ? AND id <> ?`),
		false, userID, true, keepID)
	observe("locations_clear_default", start)
	if err != nil {
		return fmt.Errorf("clear default locations: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: location %d", apperr.ErrNotFound, id)
	}
	return nil
}

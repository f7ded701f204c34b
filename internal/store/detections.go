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

// Detections stores the disease catalogue and per-user detection history.
type Detections struct {
	db  *DB
	now func() time.Time
}

func NewDetections(db *DB) *Detections {
	return &Detections{db: db, now: time.Now}
}

type diseaseRow struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	CropType    string `db:"crop_type"`
	Description string `db:"description"`
	Symptoms    string `db:"symptoms"`
	Treatment   string `db:"treatment"`
	Prevention  string `db:"prevention"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

func (r diseaseRow) model() models.Disease {
	return models.Disease{
		ID:          r.ID,
		Name:        r.Name,
		CropType:    r.CropType,
		Description: r.Description,
		Symptoms:    r.Symptoms,
		Treatment:   r.Treatment,
		Prevention:  r.Prevention,
		CreatedAt:   fromMillis(r.CreatedAt),
		UpdatedAt:   fromMillis(r.UpdatedAt),
	}
}

const diseaseColumns = `id, name, crop_type, description, symptoms, treatment, prevention, created_at, updated_at`

// ListDiseases returns the catalogue ordered by name.
func (d *Detections) ListDiseases(ctx context.Context) ([]models.Disease, error) {
	var rows []diseaseRow
	if err := d.db.selectRows(ctx, "diseases_list", &rows,
		`SELECT `+diseaseColumns+` FROM diseases ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list diseases: %w", err)
	}
	out := make([]models.Disease, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (d *Detections) Disease(ctx context.Context, id int64) (models.Disease, error) {
	var row diseaseRow
	err := d.db.get(ctx, "diseases_get", &row, `SELECT `+diseaseColumns+` FROM diseases WHERE id = ?`, id)
	if isNoRows(err) {
		return models.Disease{}, fmt.Errorf("%w: disease %d", apperr.ErrNotFound, id)
	}
	if err != nil {
		return models.Disease{}, fmt.Errorf("get disease: %w", err)
	}
	return row.model(), nil
}

// GetOrCreateDisease returns the disease named defaults.Name, inserting defaults when
// it does not exist yet. A concurrent insert of the same name is resolved by re-reading.
func (d *Detections) GetOrCreateDisease(ctx context.Context, defaults models.Disease) (models.Disease, error) {
	now := toMillis(d.now())
	_, err := d.db.exec(ctx, "diseases_insert", `
		INSERT INTO diseases (name, crop_type, description, symptoms, treatment, prevention, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING`,
		defaults.Name, defaults.CropType, defaults.Description, defaults.Symptoms,
		defaults.Treatment, defaults.Prevention, now, now,
	)
	if err != nil {
		return models.Disease{}, fmt.Errorf("insert disease: %w", err)
	}
	var row diseaseRow
	if err := d.db.get(ctx, "diseases_get_by_name", &row,
		`SELECT `+diseaseColumns+` FROM diseases WHERE name = ?`, defaults.Name); err != nil {
		return models.Disease{}, fmt.Errorf("get disease %q: %w", defaults.Name, err)
	}
	return row.model(), nil
}

type detectionRow struct {
	ID         string        `db:"id"`
	UserID     string        `db:"user_id"`
	ImagePath  string        `db:"image_path"`
	DiseaseID  sql.NullInt64 `db:"disease_id"`
	Confidence float64       `db:"confidence"`
	DetectedAt int64         `db:"detected_at"`

	DiseaseName        sql.NullString `db:"disease_name"`
	DiseaseCropType    sql.NullString `db:"disease_crop_type"`
	DiseaseDescription sql.NullString `db:"disease_description"`
	DiseaseSymptoms    sql.NullString `db:"disease_symptoms"`
	DiseaseTreatment   sql.NullString `db:"disease_treatment"`
	DiseasePrevention  sql.NullString `db:"disease_prevention"`
	DiseaseCreatedAt   sql.NullInt64  `db:"disease_created_at"`
	DiseaseUpdatedAt   sql.NullInt64  `db:"disease_updated_at"`
}

func (r detectionRow) model() models.Detection {
	det := models.Detection{
		ID:         r.ID,
		UserID:     r.UserID,
		ImagePath:  r.ImagePath,
		Confidence: r.Confidence,
		DetectedAt: fromMillis(r.DetectedAt),
	}
	if r.DiseaseID.Valid {
		det.Disease = &models.Disease{
			ID:          r.DiseaseID.Int64,
			Name:        r.DiseaseName.String,
			CropType:    r.DiseaseCropType.String,
			Description: r.DiseaseDescription.String,
			Symptoms:    r.DiseaseSymptoms.String,
			Treatment:   r.DiseaseTreatment.String,
			Prevention:  r.DiseasePrevention.String,
			CreatedAt:   fromMillis(r.DiseaseCreatedAt.Int64),
			UpdatedAt:   fromMillis(r.DiseaseUpdatedAt.Int64),
		}
	}
	return det
}

const detectionSelect = `
	SELECT d.id, d.user_id, d.image_path, d.disease_id, d.confidence, d.detected_at,
		s.name AS disease_name, s.crop_type AS disease_crop_type, s.description AS disease_description,
		s.symptoms AS disease_symptoms, s.treatment AS disease_treatment, s.prevention AS disease_prevention,
		s.created_at AS disease_created_at, s.updated_at AS disease_updated_at
	FROM detections d
	LEFT JOIN diseases s ON s.id = d.disease_id`

// SaveDetection inserts a finished detection. DetectedAt defaults to now.
func (d *Detections) SaveDetection(ctx context.Context, det models.Detection) (models.Detection, error) {
	if det.DetectedAt.IsZero() {
		det.DetectedAt = d.now()
	}
	var diseaseID sql.NullInt64
	if det.Disease != nil {
		diseaseID = sql.NullInt64{Int64: det.Disease.ID, Valid: true}
	}
	_, err := d.db.exec(ctx, "detections_insert", `
		INSERT INTO detections (id, user_id, image_path, disease_id, confidence, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		det.ID, det.UserID, det.ImagePath, diseaseID, det.Confidence, toMillis(det.DetectedAt),
	)
	if err != nil {
		return models.Detection{}, fmt.Errorf("insert detection: %w", err)
	}
	det.DetectedAt = fromMillis(toMillis(det.DetectedAt))
	return det, nil
}

// ListDetections returns the user's history, newest first.
func (d *Detections) ListDetections(ctx context.Context, userID string) ([]models.Detection, error) {
	var rows []detectionRow
	if err := d.db.selectRows(ctx, "detections_list", &rows,
		detectionSelect+` WHERE d.user_id = ? ORDER BY d.detected_at DESC, d.id`, userID); err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	out := make([]models.Detection, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (d *Detections) Detection(ctx context.Context, userID, id string) (models.Detection, error) {
	var row detectionRow
	err := d.db.get(ctx, "detections_get", &row, detectionSelect+` WHERE d.user_id = ? AND d.id = ?`, userID, id)
	if isNoRows(err) {
		return models.Detection{}, fmt.Errorf("%w: detection %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return models.Detection{}, fmt.Errorf("get detection: %w", err)
	}
	return row.model(), nil
}

// DeleteDetection removes the record and returns its image path so the caller can
// remove the file.
func (d *Detections) DeleteDetection(ctx context.Context, userID, id string) (string, error) {
	var path string
	err := d.db.inTx(ctx, func(tx *sqlx.Tx) error {
		start := time.Now()
		err := tx.GetContext(ctx, &path, d.db.rebind(
			`SELECT image_path FROM detections WHERE user_id = ? AND id = ?`), userID, id)
		observe("detections_get_path", start)
		if isNoRows(err) {
			return fmt.Errorf("%w: detection %s", apperr.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("get detection: %w", err)
		}
		start = time.Now()
		_, err = tx.ExecContext(ctx, d.db.rebind(`DELETE FROM detections WHERE user_id = ? AND id = ?`), userID, id)
		observe("detections_delete", start)
		if err != nil {
			return fmt.Errorf("delete detection: %w", err)
		}
		return nil
	})
	return path, err
}

// Stats returns the user's detection count, average confidence and the top five
// diseases by count (ties broken by name).
func (d *Detections) Stats(ctx context.Context, userID string) (total int, avgConfidence float64, top []models.DiseaseCount, err error) {
	var agg struct {
		Total int             `db:"total"`
		Avg   sql.NullFloat64 `db:"avg_confidence"`
	}
	if err := d.db.get(ctx, "detections_stats", &agg,
		`SELECT COUNT(*) AS total, AVG(confidence) AS avg_confidence FROM detections WHERE user_id = ?`, userID); err != nil {
		return 0, 0, nil, fmt.Errorf("detection stats: %w", err)
	}
	var counts []struct {
		Disease string `db:"disease"`
		Count   int    `db:"count"`
	}
	if err := d.db.selectRows(ctx, "detections_top_diseases", &counts, `
		SELECT s.name AS disease, COUNT(*) AS count
		FROM detections d JOIN diseases s ON s.id = d.disease_id
		WHERE d.user_id = ?
		GROUP BY s.name
		ORDER BY count DESC, s.name
		LIMIT 5`, userID); err != nil {
		return 0, 0, nil, fmt.Errorf("detection disease counts: %w", err)
	}
	top = make([]models.DiseaseCount, 0, len(counts))
	for _, c := range counts {
		top = append(top, models.DiseaseCount{Disease: c.Disease, Count: c.Count})
	}
	return agg.Total, agg.Avg.Float64, top, nil
}

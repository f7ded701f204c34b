package detection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/cropsense-service/internal/apperr"
	"github.com/kjstillabower/cropsense-service/internal/models"
	"github.com/kjstillabower/cropsense-service/internal/observability"
)

const (
	// MaxImageSize is the largest accepted upload.
	MaxImageSize = 5 << 20
	// TopK is how many ranked labels a detection reports.
	TopK = 3
)

const (
	defaultSymptoms   = "Visual symptoms detected. Consult expert for detailed diagnosis."
	defaultTreatment  = "Apply appropriate treatment. Consult agricultural office for recommendations."
	defaultPrevention = "Regular monitoring, proper spacing, good drainage, and crop rotation."
)

var safeExt = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,5}$`)

// Repository stores diseases and detections. *store.Detections satisfies it.
type Repository interface {
	ListDiseases(ctx context.Context) ([]models.Disease, error)
	Disease(ctx context.Context, id int64) (models.Disease, error)
	GetOrCreateDisease(ctx context.Context, defaults models.Disease) (models.Disease, error)
	SaveDetection(ctx context.Context, det models.Detection) (models.Detection, error)
	ListDetections(ctx context.Context, userID string) ([]models.Detection, error)
	Detection(ctx context.Context, userID, id string) (models.Detection, error)
	DeleteDetection(ctx context.Context, userID, id string) (string, error)
	Stats(ctx context.Context, userID string) (int, float64, []models.DiseaseCount, error)
}

type Service struct {
	classifier Classifier
	repo       Repository
	mediaDir   string
	logger     *zap.Logger
	now        func() time.Time
}

// NewService stores uploaded images under mediaDir.
func NewService(classifier Classifier, repo Repository, mediaDir string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{classifier: classifier, repo: repo, mediaDir: mediaDir, logger: logger, now: time.Now}
}

// Detect saves the image, classifies it and records the result for userID. When
// classification fails the saved image is removed and nothing is recorded.
func (s *Service) Detect(ctx context.Context, userID, filename string, image []byte) (models.DetectionResult, error) {
	log := observability.LoggerFromContext(ctx, s.logger)
	if len(image) == 0 {
		observability.DetectionsTotal.WithLabelValues("rejected").Inc()
		return models.DetectionResult{}, fmt.Errorf("%w: No image provided", apperr.ErrValidation)
	}
	if len(image) > MaxImageSize {
		observability.DetectionsTotal.WithLabelValues("rejected").Inc()
		return models.DetectionResult{}, fmt.Errorf("%w: Image too large (max 5MB)", apperr.ErrValidation)
	}

	id := uuid.NewString()
	detectedAt := s.now().UTC()
	rel, err := s.saveImage(id, filename, image, detectedAt)
	if err != nil {
		observability.DetectionsTotal.WithLabelValues("error").Inc()
		return models.DetectionResult{}, err
	}

	pred, err := s.classifier.Predict(ctx, filename, image, TopK)
	if err != nil {
		s.removeImage(log, rel)
		observability.DetectionsTotal.WithLabelValues("failed").Inc()
		log.Warn("prediction failed", zap.String("detection_id", id), zap.Error(err))
		return models.DetectionResult{}, fmt.Errorf("%w: Prediction failed: %v", apperr.ErrServiceError, err)
	}

	disease, err := s.repo.GetOrCreateDisease(ctx, diseaseDefaults(pred.Disease))
	if err != nil {
		s.removeImage(log, rel)
		observability.DetectionsTotal.WithLabelValues("error").Inc()
		return models.DetectionResult{}, err
	}
	det, err := s.repo.SaveDetection(ctx, models.Detection{
		ID:         id,
		UserID:     userID,
		ImagePath:  rel,
		Disease:    &disease,
		Confidence: pred.Confidence,
		DetectedAt: detectedAt,
	})
	if err != nil {
		s.removeImage(log, rel)
		observability.DetectionsTotal.WithLabelValues("error").Inc()
		return models.DetectionResult{}, err
	}

	observability.DetectionsTotal.WithLabelValues("success").Inc()
	log.Info("disease detected",
		zap.String("detection_id", id),
		zap.String("disease", pred.Disease),
		zap.Float64("confidence", pred.Confidence),
	)
	top := pred.TopPredictions
	if top == nil {
		top = []models.ScoredLabel{}
	}
	return models.DetectionResult{
		DetectionID:          det.ID,
		Disease:              pred.Disease,
		Confidence:           pred.Confidence,
		ConfidencePercentage: percentage(pred.Confidence),
		TopPredictions:       top,
		DiseaseInfo: models.DiseaseInfo{
			CropType:    disease.CropType,
			Description: disease.Description,
			Symptoms:    disease.Symptoms,
			Treatment:   disease.Treatment,
			Prevention:  disease.Prevention,
		},
		DetectedAt: det.DetectedAt,
		ImagePath:  det.ImagePath,
	}, nil
}

// History returns the user's detections, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]models.Detection, error) {
	return s.repo.ListDetections(ctx, userID)
}

func (s *Service) Get(ctx context.Context, userID, id string) (models.Detection, error) {
	return s.repo.Detection(ctx, userID, id)
}

// Delete removes the record and its image file.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	rel, err := s.repo.DeleteDetection(ctx, userID, id)
	if err != nil {
		return err
	}
	s.removeImage(observability.LoggerFromContext(ctx, s.logger), rel)
	return nil
}

func (s *Service) Statistics(ctx context.Context, userID string) (models.DetectionStats, error) {
	total, avg, top, err := s.repo.Stats(ctx, userID)
	if err != nil {
		return models.DetectionStats{}, err
	}
	stats := models.DetectionStats{
		TotalDetections:    total,
		MostCommonDiseases: top,
		AverageConfidence:  avg,
	}
	if stats.MostCommonDiseases == nil {
		stats.MostCommonDiseases = []models.DiseaseCount{}
	}
	if total > 0 {
		stats.AverageConfidencePercentage = percentage(avg)
	}
	return stats, nil
}

func (s *Service) Diseases(ctx context.Context) ([]models.Disease, error) {
	return s.repo.ListDiseases(ctx)
}

func (s *Service) Disease(ctx context.Context, id int64) (models.Disease, error) {
	return s.repo.Disease(ctx, id)
}

func (s *Service) ModelInfo(ctx context.Context) (models.ModelInfo, error) {
	info, err := s.classifier.Info(ctx)
	if err != nil {
		return models.ModelInfo{}, fmt.Errorf("%w: model info: %v", apperr.ErrServiceError, err)
	}
	return info, nil
}

// saveImage writes image to mediaDir/YYYY/MM/DD/<id><ext> and returns the
// slash-separated path relative to mediaDir.
func (s *Service) saveImage(id, filename string, image []byte, at time.Time) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !safeExt.MatchString(ext) {
		ext = ".jpg"
	}
	rel := filepath.Join(at.Format("2006"), at.Format("01"), at.Format("02"), id+ext)
	full := filepath.Join(s.mediaDir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create media directory: %w", err)
	}
	if err := os.WriteFile(full, image, 0o644); err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

func (s *Service) removeImage(log *zap.Logger, rel string) {
	if rel == "" {
		return
	}
	err := os.Remove(filepath.Join(s.mediaDir, filepath.FromSlash(rel)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove image failed", zap.String("path", rel), zap.Error(err))
	}
}

// diseaseDefaults fills a new catalogue entry for a label the catalogue has not seen.
// Labels look like "Tomato_Early_blight": the crop is the text before the first underscore.
func diseaseDefaults(name string) models.Disease {
	crop := "Unknown"
	if i := strings.Index(name, "_"); i >= 0 {
		crop = name[:i]
	}
	return models.Disease{
		Name:        name,
		CropType:    crop,
		Description: "Disease: " + strings.ReplaceAll(name, "_", " "),
		Symptoms:    defaultSymptoms,
		Treatment:   defaultTreatment,
		Prevention:  defaultPrevention,
	}
}

func percentage(fraction float64) string {
	return fmt.Sprintf("%.2f%%", fraction*100)
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/cropsense-service/internal/apperr"
	"github.com/kjstillabower/cropsense-service/internal/detection"
	"github.com/kjstillabower/cropsense-service/internal/models"
	"github.com/kjstillabower/cropsense-service/internal/service"
	"github.com/kjstillabower/cropsense-service/internal/validation"
)

const maxJSONBody = 1 << 20

type WeatherService interface {
	Current(ctx context.Context, q service.Query) (models.CurrentReport, error)
	Forecast(ctx context.Context, q service.Query) (models.ForecastReport, error)
}

type LocationService interface {
	List(ctx context.Context, userID string) ([]models.FarmLocation, error)
	Get(ctx context.Context, userID string, id int64) (models.FarmLocation, error)
	Create(ctx context.Context, userID string, in validation.LocationInput) (models.FarmLocation, error)
	Update(ctx context.Context, userID string, id int64, in validation.LocationInput) (models.FarmLocation, error)
	Delete(ctx context.Context, userID string, id int64) error
	SetDefault(ctx context.Context, userID string, id int64) (models.FarmLocation, error)
}

type DetectionService interface {
	Detect(ctx context.Context, userID, filename string, image []byte) (models.DetectionResult, error)
	History(ctx context.Context, userID string) ([]models.Detection, error)
	Get(ctx context.Context, userID, id string) (models.Detection, error)
	Delete(ctx context.Context, userID, id string) error
	Statistics(ctx context.Context, userID string) (models.DetectionStats, error)
	Diseases(ctx context.Context) ([]models.Disease, error)
	Disease(ctx context.Context, id int64) (models.Disease, error)
	ModelInfo(ctx context.Context) (models.ModelInfo, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather   WeatherService
	locations LocationService
	detection DetectionService

	healthConfig     *HealthConfig
	logger           *zap.Logger
	rateLimiter      *rate.Limiter
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

func NewHandler(
	weather WeatherService,
	locations LocationService,
	detection DetectionService,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	rateLimiter *rate.Limiter,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weather:      weather,
		locations:    locations,
		detection:    detection,
		healthConfig: healthConfig,
		logger:       logger,
		rateLimiter:  rateLimiter,
	}
}

func weatherQuery(r *http.Request) service.Query {
	q := r.URL.Query()
	return service.Query{
		UserID: userFrom(r),
		Lat:    q.Get("lat"),
		Lon:    q.Get("lon"),
		City:   q.Get("city"),
		Units:  q.Get("units"),
	}
}

// GetCurrentWeather handles GET /api/v1/weather/current.
func (h *Handler) GetCurrentWeather(w http.ResponseWriter, r *http.Request) {
	report, err := h.weather.Current(r.Context(), weatherQuery(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetForecast handles GET /api/v1/weather/forecast.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	report, err := h.weather.Forecast(r.Context(), weatherQuery(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.locations.List(r.Context(), userFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locs)
}

func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var in validation.LocationInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	loc, err := h.locations.Create(r.Context(), userFrom(r), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	loc, err := h.locations.Get(r.Context(), userFrom(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var in validation.LocationInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	loc, err := h.locations.Update(r.Context(), userFrom(r), id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.locations.Delete(r.Context(), userFrom(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetDefaultLocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	loc, err := h.locations.SetDefault(r.Context(), userFrom(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  loc.Name + " set as default location",
		"location": loc,
	})
}

// Detect handles POST /api/v1/detection/detect with a multipart "image" field.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	// Leave room for multipart framing so an image at exactly the limit still parses.
	r.Body = http.MaxBytesReader(w, r.Body, detection.MaxImageSize+maxJSONBody)
	file, header, err := r.FormFile("image")
	var (
		image    []byte
		filename string
	)
	switch {
	case err == nil:
		defer file.Close()
		filename = header.Filename
		image, err = io.ReadAll(io.LimitReader(file, detection.MaxImageSize+1))
		if err != nil {
			writeServiceError(w, r, fmt.Errorf("%w: read image: %v", apperr.ErrValidation, err))
			return
		}
	case isTooLarge(err):
		writeServiceError(w, r, fmt.Errorf("%w: Image too large (max 5MB)", apperr.ErrValidation))
		return
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// The service reports the missing image.
	default:
		writeServiceError(w, r, fmt.Errorf("%w: invalid multipart body: %v", apperr.ErrValidation, err))
		return
	}

	result, err := h.detection.Detect(r.Context(), userFrom(r), filename, image)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) DetectionHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.detection.History(r.Context(), userFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) GetDetection(w http.ResponseWriter, r *http.Request) {
	det, err := h.detection.Get(r.Context(), userFrom(r), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

func (h *Handler) DeleteDetection(w http.ResponseWriter, r *http.Request) {
	if err := h.detection.Delete(r.Context(), userFrom(r), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DetectionStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.detection.Statistics(r.Context(), userFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) ListDiseases(w http.ResponseWriter, r *http.Request) {
	diseases, err := h.detection.Diseases(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diseases)
}

func (h *Handler) GetDisease(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	disease, err := h.detection.Disease(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, disease)
}

func (h *Handler) GetModelInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.detection.ModelInfo(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", apperr.ErrValidation, raw)
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", apperr.ErrValidation, err)
	}
	return nil
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

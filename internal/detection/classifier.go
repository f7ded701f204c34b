// Package detection runs crop disease classification on uploaded leaf images and
// keeps each user's detection history.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/cropsense-service/internal/models"
)

// DefaultClassifierTimeout bounds one classification call.
const DefaultClassifierTimeout = 30 * time.Second

// Classifier labels an image with the most likely disease.
type Classifier interface {
	Predict(ctx context.Context, filename string, image []byte, topK int) (models.Prediction, error)
	Info(ctx context.Context) (models.ModelInfo, error)
}

// RemoteClassifier calls a model server over HTTP: POST {url}/predict with a
// multipart "image" field, GET {url}/info for model metadata.
type RemoteClassifier struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

func NewRemoteClassifier(url string, timeout time.Duration, logger *zap.Logger) (*RemoteClassifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("classifier URL is required")
	}
	if timeout <= 0 {
		timeout = DefaultClassifierTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &RemoteClassifier{client: client, url: strings.TrimRight(url, "/"), logger: logger}, nil
}

func (c *RemoteClassifier) Predict(ctx context.Context, filename string, image []byte, topK int) (models.Prediction, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetFileReader("image", filename, bytes.NewReader(image)).
		SetFormData(map[string]string{"top_k": strconv.Itoa(topK)}).
		Post(c.url + "/predict")
	if err != nil {
		return models.Prediction{}, fmt.Errorf("classifier request: %w", err)
	}
	if !resp.IsSuccess() {
		return models.Prediction{}, fmt.Errorf("classifier returned HTTP %d", resp.StatusCode())
	}

	var p models.Prediction
	if err := json.Unmarshal(resp.Body(), &p); err != nil {
		return models.Prediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	if p.Disease == "" {
		return models.Prediction{}, errors.New("classifier returned no label")
	}
	if p.TopPredictions == nil {
		p.TopPredictions = []models.ScoredLabel{}
	}
	return p, nil
}

func (c *RemoteClassifier) Info(ctx context.Context) (models.ModelInfo, error) {
	resp, err := c.client.R().SetContext(ctx).Get(c.url + "/info")
	if err != nil {
		return models.ModelInfo{}, fmt.Errorf("classifier request: %w", err)
	}
	if !resp.IsSuccess() {
		return models.ModelInfo{}, fmt.Errorf("classifier returned HTTP %d", resp.StatusCode())
	}
	var info models.ModelInfo
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		return models.ModelInfo{}, fmt.Errorf("decode model info: %w", err)
	}
	if info.Diseases == nil {
		info.Diseases = []string{}
	}
	return info, nil
}

package models

import "time"

type Disease struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	CropType    string    `json:"crop_type"`
	Description string    `json:"description"`
	Symptoms    string    `json:"symptoms"`
	Treatment   string    `json:"treatment"`
	Prevention  string    `json:"prevention"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Detection is one classified upload in a user's history.
type Detection struct {
	ID         string    `json:"id"`
	UserID     string    `json:"username"`
	ImagePath  string    `json:"image"`
	Disease    *Disease  `json:"disease"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}

// ScoredLabel is a single classifier output class with its probability.
type ScoredLabel struct {
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence"`
}

// Prediction is the classifier's answer for one image.
type Prediction struct {
	Disease        string        `json:"disease"`
	Confidence     float64       `json:"confidence"`
	TopPredictions []ScoredLabel `json:"top_predictions"`
}

// ModelInfo describes the loaded classification model.
type ModelInfo struct {
	NumClasses int      `json:"num_classes"`
	Device     string   `json:"device"`
	ModelType  string   `json:"model_type"`
	InputSize  string   `json:"input_size"`
	Diseases   []string `json:"diseases"`
}

type DiseaseInfo struct {
	CropType    string `json:"crop_type"`
	Description string `json:"description"`
	Symptoms    string `json:"symptoms"`
	Treatment   string `json:"treatment"`
	Prevention  string `json:"prevention"`
}

// DetectionResult is the response body of the detect endpoint.
type DetectionResult struct {
	DetectionID          string        `json:"detection_id"`
	Disease              string        `json:"disease"`
	Confidence           float64       `json:"confidence"`
	ConfidencePercentage string        `json:"confidence_percentage"`
	TopPredictions       []ScoredLabel `json:"top_predictions"`
	DiseaseInfo          DiseaseInfo   `json:"disease_info"`
	DetectedAt           time.Time     `json:"detected_at"`
	ImagePath            string        `json:"image_url"`
}

type DiseaseCount struct {
	Disease string `json:"disease"`
	Count   int    `json:"count"`
}

// DetectionStats summarizes a user's detection history.
type DetectionStats struct {
	TotalDetections             int            `json:"total_detections"`
	MostCommonDiseases          []DiseaseCount `json:"most_common_diseases"`
	AverageConfidence           float64        `json:"average_confidence"`
	AverageConfidencePercentage string         `json:"average_confidence_percentage,omitempty"`
}

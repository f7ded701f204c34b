package models

import "time"

// Coordinates is a resolved latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// FormattedWeather is the normalized weather payload stored in the cache and served to clients.
type FormattedWeather struct {
	Location Location       `json:"location"`
	Current  Current        `json:"current"`
	Hourly   []HourlySample `json:"hourly_forecast"`
	Daily    []DailySample  `json:"daily_forecast"`
	CachedAt time.Time      `json:"cached_at"`
}

type Location struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Timezone  string   `json:"timezone"`
}

// Current holds present conditions. Percentages are 0-100; nil means the
// upstream payload did not carry the field.
type Current struct {
	Time                     string   `json:"time"`
	Summary                  string   `json:"summary"`
	Icon                     string   `json:"icon"`
	Temperature              *float64 `json:"temperature"`
	FeelsLike                *float64 `json:"feels_like"`
	Humidity                 float64  `json:"humidity"`
	Pressure                 *float64 `json:"pressure"`
	WindSpeed                *float64 `json:"wind_speed"`
	WindDirection            *float64 `json:"wind_direction"`
	CloudCover               float64  `json:"cloud_cover"`
	UVIndex                  *float64 `json:"uv_index"`
	Visibility               *float64 `json:"visibility"`
	PrecipitationProbability float64  `json:"precipitation_probability"`
	PrecipitationIntensity   *float64 `json:"precipitation_intensity"`
	PrecipitationType        string   `json:"precipitation_type"`
}

type HourlySample struct {
	Time                     string   `json:"time"`
	Temperature              *float64 `json:"temperature"`
	PrecipitationProbability float64  `json:"precipitation_probability"`
	Icon                     string   `json:"icon"`
	Summary                  string   `json:"summary"`
}

type DailySample struct {
	Date                     string   `json:"date"`
	Summary                  string   `json:"summary"`
	Icon                     string   `json:"icon"`
	TemperatureHigh          *float64 `json:"temperature_high"`
	TemperatureLow           *float64 `json:"temperature_low"`
	PrecipitationProbability float64  `json:"precipitation_probability"`
	PrecipitationType        string   `json:"precipitation_type"`
	Humidity                 float64  `json:"humidity"`
	WindSpeed                *float64 `json:"wind_speed"`
	Sunrise                  string   `json:"sunrise"`
	Sunset                   string   `json:"sunset"`
}

// CacheEntry is one row of the weather cache. At most one entry exists per key.
type CacheEntry struct {
	Key      string           `json:"key"`
	Payload  FormattedWeather `json:"payload"`
	CachedAt time.Time        `json:"cached_at"`
}

// Recommendation is derived per request from the current conditions and never stored.
type Recommendation struct {
	Irrigation     []string `json:"irrigation"`
	Precautions    []string `json:"precautions"`
	BestActivities []string `json:"best_activities"`
}

// CurrentReport is the response body of the current-weather endpoint.
type CurrentReport struct {
	Weather         FormattedWeather `json:"weather"`
	Recommendations Recommendation   `json:"farming_recommendations"`
}

// ForecastReport is the response body of the forecast endpoint.
type ForecastReport struct {
	Hourly []HourlySample `json:"hourly_forecast"`
	Daily  []DailySample  `json:"daily_forecast"`
}

// Package format turns a raw forecast body into the FormattedWeather payload that is
// cached and served.
package format

import (
	"time"

	"github.com/kjstillabower/cropsense-service/internal/client"
	"github.com/kjstillabower/cropsense-service/internal/models"
)

const (
	hourlyLimit = 24
	dailyLimit  = 7

	currentLayout = "2006-01-02T15:04:05"
	hourlyLayout  = "2006-01-02 15:04"
	dailyLayout   = "2006-01-02"
	clockLayout   = "15:04"

	placeholder     = "N/A"
	unknownIcon     = "unknown"
	noPrecipitation = "none"
	unknownTimezone = "Unknown"
)

// Formatter renders timestamps in Location and stamps CachedAt from Now in UTC
// without a monotonic reading, so the payload survives a JSON round-trip unchanged.
type Formatter struct {
	Location *time.Location
	Now      func() time.Time
}

// New returns a Formatter for loc. A nil loc means the server's local zone.
func New(loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.Local
	}
	return &Formatter{Location: loc, Now: time.Now}
}

// Format keeps the first 24 hourly and 7 daily samples as delivered. Absent numeric
// fields stay nil except humidity, cloud cover and precipitation probability, which
// default to 0 and are scaled from fractions to percentages.
func (f *Formatter) Format(raw client.RawForecast) models.FormattedWeather {
	out := models.FormattedWeather{
		Location: models.Location{
			Latitude:  raw.Latitude,
			Longitude: raw.Longitude,
			Timezone:  stringOr(raw.Timezone, unknownTimezone),
		},
		Current:  f.current(raw.Currently),
		Hourly:   []models.HourlySample{},
		Daily:    []models.DailySample{},
		CachedAt: f.now().UTC().Round(0),
	}

	if raw.Hourly != nil {
		for i, p := range raw.Hourly.Data {
			if i == hourlyLimit {
				break
			}
			out.Hourly = append(out.Hourly, models.HourlySample{
				Time:                     f.timestamp(p.Time, hourlyLayout),
				Temperature:              p.Temperature,
				PrecipitationProbability: percent(p.PrecipProbability),
				Icon:                     stringOr(p.Icon, unknownIcon),
				Summary:                  stringOr(p.Summary, placeholder),
			})
		}
	}

	if raw.Daily != nil {
		for i, p := range raw.Daily.Data {
			if i == dailyLimit {
				break
			}
			out.Daily = append(out.Daily, models.DailySample{
				Date:                     f.timestamp(p.Time, dailyLayout),
				Summary:                  stringOr(p.Summary, placeholder),
				Icon:                     stringOr(p.Icon, unknownIcon),
				TemperatureHigh:          p.TemperatureHigh,
				TemperatureLow:           p.TemperatureLow,
				PrecipitationProbability: percent(p.PrecipProbability),
				PrecipitationType:        stringOr(p.PrecipType, noPrecipitation),
				Humidity:                 percent(p.Humidity),
				WindSpeed:                p.WindSpeed,
				Sunrise:                  f.timestamp(p.SunriseTime, clockLayout),
				Sunset:                   f.timestamp(p.SunsetTime, clockLayout),
			})
		}
	}
	return out
}

func (f *Formatter) current(p *client.DataPoint) models.Current {
	if p == nil {
		p = &client.DataPoint{}
	}
	return models.Current{
		Time:                     f.timestamp(p.Time, currentLayout),
		Summary:                  stringOr(p.Summary, placeholder),
		Icon:                     stringOr(p.Icon, unknownIcon),
		Temperature:              p.Temperature,
		FeelsLike:                p.ApparentTemperature,
		Humidity:                 percent(p.Humidity),
		Pressure:                 p.Pressure,
		WindSpeed:                p.WindSpeed,
		WindDirection:            p.WindBearing,
		CloudCover:               percent(p.CloudCover),
		UVIndex:                  p.UVIndex,
		Visibility:               p.Visibility,
		PrecipitationProbability: percent(p.PrecipProbability),
		PrecipitationIntensity:   p.PrecipIntensity,
		PrecipitationType:        stringOr(p.PrecipType, noPrecipitation),
	}
}

// timestamp renders epoch seconds in the formatter's zone; a missing value renders "N/A".
func (f *Formatter) timestamp(sec *int64, layout string) string {
	if sec == nil {
		return placeholder
	}
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(*sec, 0).In(loc).Format(layout)
}

func (f *Formatter) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}

func percent(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v * 100
}

func stringOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

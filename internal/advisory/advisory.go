// Package advisory derives farming recommendations from current weather conditions.
package advisory

import "github.com/kjstillabower/cropsense-service/internal/models"

const (
	MsgHeatPrecaution  = "High temperature alert! Ensure adequate irrigation."
	MsgHeatIrrigation  = "Increase watering frequency"
	MsgFrostPrecaution = "Cold weather! Protect sensitive crops from frost."
	MsgRainPrecaution  = "High chance of rain. Avoid irrigation and pesticide application."
	MsgRainIrrigation  = "Skip irrigation today"
	MsgDryIrrigation   = "Low rain probability - consider irrigation"
	MsgHumidPrecaution = "High humidity! Monitor for fungal diseases."
	MsgWindPrecaution  = "High winds! Avoid spraying operations."
	MsgFieldWorkDay    = "Good day for field work and spraying"
	MsgPlantingWeather = "Suitable for planting and transplanting"
)

// Recommend applies the threshold rules to w.Current only. Rules that need a
// temperature or wind speed do not fire when the value is absent. The result lists
// are never nil so they encode as [].
func Recommend(w models.FormattedWeather) models.Recommendation {
	c := w.Current
	rec := models.Recommendation{
		Irrigation:     []string{},
		Precautions:    []string{},
		BestActivities: []string{},
	}
	precip := c.PrecipitationProbability

	if c.Temperature != nil {
		switch temp := *c.Temperature; {
		case temp > 35:
			rec.Precautions = append(rec.Precautions, MsgHeatPrecaution)
			rec.Irrigation = append(rec.Irrigation, MsgHeatIrrigation)
		case temp < 5:
			rec.Precautions = append(rec.Precautions, MsgFrostPrecaution)
		}
	}

	switch {
	case precip > 70:
		rec.Precautions = append(rec.Precautions, MsgRainPrecaution)
		rec.Irrigation = append(rec.Irrigation, MsgRainIrrigation)
	case precip < 20:
		rec.Irrigation = append(rec.Irrigation, MsgDryIrrigation)
	}

	if c.Humidity > 80 {
		rec.Precautions = append(rec.Precautions, MsgHumidPrecaution)
	}

	if c.WindSpeed != nil && *c.WindSpeed > 20 {
		rec.Precautions = append(rec.Precautions, MsgWindPrecaution)
	}

	if c.Temperature != nil {
		temp := *c.Temperature
		if precip < 30 && temp > 15 && temp < 30 && c.WindSpeed != nil && *c.WindSpeed < 15 {
			rec.BestActivities = append(rec.BestActivities, MsgFieldWorkDay)
		}
		if precip < 20 && temp > 10 {
			rec.BestActivities = append(rec.BestActivities, MsgPlantingWeather)
		}
	}
	return rec
}

package client

// RawForecast is the Dark Sky format body returned by Pirate Weather.
// Every optional field is a pointer so the formatter can tell absent from zero.
type RawForecast struct {
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Timezone  *string    `json:"timezone"`
	Currently *DataPoint `json:"currently"`
	Hourly    *DataBlock `json:"hourly"`
	Daily     *DataBlock `json:"daily"`
}

type DataBlock struct {
	Summary *string     `json:"summary"`
	Icon    *string     `json:"icon"`
	Data    []DataPoint `json:"data"`
}

// DataPoint is shared by currently, hourly and daily entries; daily points carry the
// high/low and sun fields, the others leave them nil.
type DataPoint struct {
	Time                *int64   `json:"time"`
	Summary             *string  `json:"summary"`
	Icon                *string  `json:"icon"`
	Temperature         *float64 `json:"temperature"`
	ApparentTemperature *float64 `json:"apparentTemperature"`
	TemperatureHigh     *float64 `json:"temperatureHigh"`
	TemperatureLow      *float64 `json:"temperatureLow"`
	Humidity            *float64 `json:"humidity"`
	Pressure            *float64 `json:"pressure"`
	WindSpeed           *float64 `json:"windSpeed"`
	WindBearing         *float64 `json:"windBearing"`
	CloudCover          *float64 `json:"cloudCover"`
	UVIndex             *float64 `json:"uvIndex"`
	Visibility          *float64 `json:"visibility"`
	PrecipProbability   *float64 `json:"precipProbability"`
	PrecipIntensity     *float64 `json:"precipIntensity"`
	PrecipType          *string  `json:"precipType"`
	SunriseTime         *int64   `json:"sunriseTime"`
	SunsetTime          *int64   `json:"sunsetTime"`
}

package format

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/kjstillabower/cropsense-service/internal/client"
	"github.com/kjstillabower/cropsense-service/internal/models"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }
func str(v string) *string   { return &v }

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func newTestFormatter() *Formatter {
	f := New(time.UTC)
	f.Now = func() time.Time { return fixedNow }
	return f
}

func TestFormat_Current(t *testing.T) {
	raw := client.RawForecast{
		Latitude:  f64(18.52),
		Longitude: f64(73.85),
		Timezone:  str("Asia/Kolkata"),
		Currently: &client.DataPoint{
			Time:                i64(1700000000),
			Summary:             str("Clear"),
			Icon:                str("clear-day"),
			Temperature:         f64(31.5),
			ApparentTemperature: f64(33),
			Humidity:            f64(0.5),
			CloudCover:          f64(0.25),
			PrecipProbability:   f64(0.75),
			PrecipType:          str("rain"),
			WindSpeed:           f64(4),
		},
	}

	got := newTestFormatter().Format(raw)
	c := got.Current
	if c.Time != "2023-11-14T22:13:20" {
		t.Errorf("Time = %q, want 2023-11-14T22:13:20", c.Time)
	}
	if c.Summary != "Clear" || c.Icon != "clear-day" || c.PrecipitationType != "rain" {
		t.Errorf("strings = (%q, %q, %q)", c.Summary, c.Icon, c.PrecipitationType)
	}
	if c.Humidity != 50 || c.CloudCover != 25 || c.PrecipitationProbability != 75 {
		t.Errorf("percentages = (%v, %v, %v), want (50, 25, 75)", c.Humidity, c.CloudCover, c.PrecipitationProbability)
	}
	if c.Temperature == nil || *c.Temperature != 31.5 || c.FeelsLike == nil || *c.FeelsLike != 33 {
		t.Errorf("temperatures = (%v, %v)", c.Temperature, c.FeelsLike)
	}
	if got.Location.Timezone != "Asia/Kolkata" || *got.Location.Latitude != 18.52 {
		t.Errorf("Location = %+v", got.Location)
	}
	if !got.CachedAt.Equal(fixedNow) {
		t.Errorf("CachedAt = %v, want %v", got.CachedAt, fixedNow)
	}
}

// TestFormat_MissingCurrently verifies the fixed placeholder for each absent field.
func TestFormat_MissingCurrently(t *testing.T) {
	got := newTestFormatter().Format(client.RawForecast{})
	c := got.Current

	if c.Time != "N/A" || c.Summary != "N/A" {
		t.Errorf("Time, Summary = (%q, %q), want N/A", c.Time, c.Summary)
	}
	if c.Icon != "unknown" {
		t.Errorf("Icon = %q, want unknown", c.Icon)
	}
	if c.PrecipitationType != "none" {
		t.Errorf("PrecipitationType = %q, want none", c.PrecipitationType)
	}
	if c.Humidity != 0 || c.CloudCover != 0 || c.PrecipitationProbability != 0 {
		t.Errorf("percentages = (%v, %v, %v), want zeros", c.Humidity, c.CloudCover, c.PrecipitationProbability)
	}
	for name, v := range map[string]*float64{
		"temperature": c.Temperature, "feels_like": c.FeelsLike, "pressure": c.Pressure,
		"wind_speed": c.WindSpeed, "wind_direction": c.WindDirection, "uv_index": c.UVIndex,
		"visibility": c.Visibility, "precipitation_intensity": c.PrecipitationIntensity,
	} {
		if v != nil {
			t.Errorf("%s = %v, want nil", name, *v)
		}
	}
	if got.Location.Timezone != "Unknown" || got.Location.Latitude != nil {
		t.Errorf("Location = %+v, want Unknown timezone and nil latitude", got.Location)
	}
	if got.Hourly == nil || got.Daily == nil || len(got.Hourly) != 0 || len(got.Daily) != 0 {
		t.Errorf("Hourly/Daily = %v/%v, want empty non-nil slices", got.Hourly, got.Daily)
	}
}

func TestFormat_Truncation(t *testing.T) {
	tests := []struct {
		name       string
		hours      int
		days       int
		wantHourly int
		wantDaily  int
	}{
		{name: "longer than limits", hours: 48, days: 8, wantHourly: 24, wantDaily: 7},
		{name: "shorter than limits", hours: 3, days: 2, wantHourly: 3, wantDaily: 2},
		{name: "exactly limits", hours: 24, days: 7, wantHourly: 24, wantDaily: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := client.RawForecast{Hourly: &client.DataBlock{}, Daily: &client.DataBlock{}}
			for i := 0; i < tt.hours; i++ {
				raw.Hourly.Data = append(raw.Hourly.Data, client.DataPoint{Time: i64(int64(i) * 3600)})
			}
			for i := 0; i < tt.days; i++ {
				raw.Daily.Data = append(raw.Daily.Data, client.DataPoint{Time: i64(int64(i) * 86400)})
			}
			got := newTestFormatter().Format(raw)
			if len(got.Hourly) != tt.wantHourly || len(got.Daily) != tt.wantDaily {
				t.Errorf("len = (%d, %d), want (%d, %d)", len(got.Hourly), len(got.Daily), tt.wantHourly, tt.wantDaily)
			}
			if len(got.Hourly) > 0 && got.Hourly[0].Time != "1970-01-01 00:00" {
				t.Errorf("Hourly[0].Time = %q, want first delivered sample", got.Hourly[0].Time)
			}
		})
	}
}

func TestFormat_DailyFields(t *testing.T) {
	raw := client.RawForecast{Daily: &client.DataBlock{Data: []client.DataPoint{{
		Time:              i64(1700006400),
		TemperatureHigh:   f64(30),
		Humidity:          f64(0.5),
		PrecipProbability: f64(0.25),
		SunriseTime:       i64(1700030400),
	}}}}
	d := newTestFormatter().Format(raw).Daily[0]
	if d.Date != "2023-11-15" {
		t.Errorf("Date = %q, want 2023-11-15", d.Date)
	}
	if d.Sunrise != "06:40" {
		t.Errorf("Sunrise = %q, want 06:40", d.Sunrise)
	}
	if d.Sunset != "N/A" {
		t.Errorf("Sunset = %q, want N/A", d.Sunset)
	}
	if d.Humidity != 50 || d.PrecipitationProbability != 25 {
		t.Errorf("percentages = (%v, %v), want (50, 25)", d.Humidity, d.PrecipitationProbability)
	}
	if d.TemperatureLow != nil || d.WindSpeed != nil {
		t.Errorf("TemperatureLow, WindSpeed = (%v, %v), want nil", d.TemperatureLow, d.WindSpeed)
	}
	if d.Summary != "N/A" || d.Icon != "unknown" || d.PrecipitationType != "none" {
		t.Errorf("strings = (%q, %q, %q)", d.Summary, d.Icon, d.PrecipitationType)
	}
}

func TestFormat_ZoneOverride(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+1800)
	f := New(kolkata)
	raw := client.RawForecast{Currently: &client.DataPoint{Time: i64(0)}}
	if got := f.Format(raw).Current.Time; got != "1970-01-01T05:30:00" {
		t.Errorf("Time = %q, want 1970-01-01T05:30:00", got)
	}
}

func TestFormat_CachedAtSurvivesJSON(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	f := New(ist)
	f.Now = func() time.Time { return time.Now().In(ist) }

	want := f.Format(client.RawForecast{
		Latitude:  f64(18.52),
		Longitude: f64(73.85),
		Currently: &client.DataPoint{Time: i64(1700000000), Temperature: f64(31.5)},
	})
	if want.CachedAt.Location() != time.UTC {
		t.Errorf("CachedAt zone = %v, want UTC", want.CachedAt.Location())
	}

	raw, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got models.FormattedWeather
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round-trip mismatch:\n got  %+v\n want %+v", got, want)
	}
}

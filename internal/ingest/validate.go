package ingest

import (
	"encoding/json"

	"github.com/lox/weatherlanding/internal/models"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagHumidityInvalid    = "humidity_invalid"
	FlagWindSpeedUnlikely  = "wind_speed_unlikely"
	FlagPressureOutOfRange = "pressure_out_of_range"
	FlagAQIInvalid         = "aqi_invalid"
	FlagPollutantNegative  = "pollutant_negative"
)

// ValidateWeather flags implausible values. Units are imperial (°F, mph, hPa).
func ValidateWeather(r models.WeatherRecord) []string {
	var flags []string

	for _, temp := range []json.Number{r.Temperature, r.FeelsLike, r.TempMin, r.TempMax} {
		if t := models.Float(temp); t < -80 || t > 140 {
			flags = append(flags, FlagTempOutOfRange)
			break
		}
	}

	if h := models.Float(r.Humidity); h < 0 || h > 100 {
		flags = append(flags, FlagHumidityInvalid)
	}

	if w := models.Float(r.WindSpeed); w < 0 || w > 250 {
		flags = append(flags, FlagWindSpeedUnlikely)
	}

	if p := models.Float(r.Pressure); p < 870 || p > 1085 {
		flags = append(flags, FlagPressureOutOfRange)
	}

	return flags
}

// ValidateAirQuality flags an AQI outside OpenWeather's 1-5 scale and any
// negative concentration.
func ValidateAirQuality(r models.AirQualityRecord) []string {
	var flags []string

	if r.AQI < 1 || r.AQI > 5 {
		flags = append(flags, FlagAQIInvalid)
	}

	for _, c := range []json.Number{r.CO, r.NO, r.NO2, r.SO2, r.NH3, r.PM25, r.PM10} {
		if models.Float(c) < 0 {
			flags = append(flags, FlagPollutantNegative)
			break
		}
	}

	return flags
}

func ValidateRecord(rec models.Record) []string {
	switch r := rec.(type) {
	case models.WeatherRecord:
		return ValidateWeather(r)
	case models.AirQualityRecord:
		return ValidateAirQuality(r)
	default:
		return nil
	}
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}

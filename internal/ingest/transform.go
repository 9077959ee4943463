package ingest

import (
	"encoding/json"
	"time"

	"github.com/lox/weatherlanding/internal/failure"
	"github.com/lox/weatherlanding/internal/models"
)

// DefaultAirQualityOffset is applied to air-quality timestamps, which carry
// no UTC offset of their own (UTC-4, the reference deployment's zone).
const DefaultAirQualityOffset = -14400

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

type weatherPayload struct {
	Name  string `json:"name"`
	Coord struct {
		Lat json.Number `json:"lat"`
		Lon json.Number `json:"lon"`
	} `json:"coord"`
	Dt       int64 `json:"dt"`
	Timezone int64 `json:"timezone"`
	Weather  []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      json.Number `json:"temp"`
		FeelsLike json.Number `json:"feels_like"`
		TempMin   json.Number `json:"temp_min"`
		TempMax   json.Number `json:"temp_max"`
		Pressure  json.Number `json:"pressure"`
		Humidity  json.Number `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed json.Number `json:"speed"`
	} `json:"wind"`
	Sys struct {
		Sunrise int64 `json:"sunrise"`
		Sunset  int64 `json:"sunset"`
	} `json:"sys"`
}

type airQualityPayload struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
		Components struct {
			CO   json.Number `json:"co"`
			NO   json.Number `json:"no"`
			NO2  json.Number `json:"no2"`
			SO2  json.Number `json:"so2"`
			NH3  json.Number `json:"nh3"`
			PM25 json.Number `json:"pm2_5"`
			PM10 json.Number `json:"pm10"`
		} `json:"components"`
	} `json:"list"`
}

// Transformer maps raw responses to records. It holds no state besides the
// air-quality offset, so the same input always yields the same record.
type Transformer struct {
	airQualityOffset int64
}

func NewTransformer(airQualityOffsetSeconds int64) *Transformer {
	return &Transformer{airQualityOffset: airQualityOffsetSeconds}
}

// Transform dispatches on raw.Source.
func (t *Transformer) Transform(raw models.RawResponse) (models.Record, error) {
	switch raw.Source {
	case models.SourceWeather:
		return t.TransformWeather(raw)
	case models.SourceAirQuality:
		return t.TransformAirQuality(raw)
	default:
		return nil, failure.Newf(failure.ErrSchema, "unknown source %q", raw.Source)
	}
}

func (t *Transformer) TransformWeather(raw models.RawResponse) (models.WeatherRecord, error) {
	if err := checkSchema(models.SourceWeather, raw.Body); err != nil {
		return models.WeatherRecord{}, err
	}

	var p weatherPayload
	if err := json.Unmarshal(raw.Body, &p); err != nil {
		return models.WeatherRecord{}, failure.Mark(err, failure.ErrSchema, "decode weather response")
	}

	observed := LocalTime(p.Dt, p.Timezone)
	return models.WeatherRecord{
		City:        p.Name,
		Latitude:    p.Coord.Lat,
		Longitude:   p.Coord.Lon,
		Date:        observed.Format(dateLayout),
		RecordTime:  observed.Format(timeLayout),
		Description: p.Weather[0].Description,
		Temperature: p.Main.Temp,
		FeelsLike:   p.Main.FeelsLike,
		TempMin:     p.Main.TempMin,
		TempMax:     p.Main.TempMax,
		Pressure:    p.Main.Pressure,
		Humidity:    p.Main.Humidity,
		WindSpeed:   p.Wind.Speed,
		Sunrise:     LocalTime(p.Sys.Sunrise, p.Timezone).Format(timeLayout),
		Sunset:      LocalTime(p.Sys.Sunset, p.Timezone).Format(timeLayout),
	}, nil
}

func (t *Transformer) TransformAirQuality(raw models.RawResponse) (models.AirQualityRecord, error) {
	if err := checkSchema(models.SourceAirQuality, raw.Body); err != nil {
		return models.AirQualityRecord{}, err
	}

	var p airQualityPayload
	if err := json.Unmarshal(raw.Body, &p); err != nil {
		return models.AirQualityRecord{}, failure.Mark(err, failure.ErrSchema, "decode air quality response")
	}

	entry := p.List[0]
	observed := LocalTime(entry.Dt, t.airQualityOffset)
	return models.AirQualityRecord{
		AQI:        entry.Main.AQI,
		Date:       observed.Format(dateLayout),
		RecordTime: observed.Format(timeLayout),
		CO:         entry.Components.CO,
		NO:         entry.Components.NO,
		NO2:        entry.Components.NO2,
		SO2:        entry.Components.SO2,
		NH3:        entry.Components.NH3,
		PM25:       entry.Components.PM25,
		PM10:       entry.Components.PM10,
	}, nil
}

// LocalTime shifts an epoch by a UTC offset and returns the result as a UTC
// calendar time, i.e. the wall clock at the location.
func LocalTime(epoch, offsetSeconds int64) time.Time {
	return time.Unix(epoch+offsetSeconds, 0).UTC()
}

package ingest

import (
	"net/url"

	"github.com/lox/weatherlanding/internal/models"
)

const (
	DefaultWeatherURL    = "https://api.openweathermap.org/data/2.5/weather"
	DefaultAirQualityURL = "https://api.openweathermap.org/data/2.5/air_pollution"
)

// Source is one OpenWeather endpoint polled by a branch. The probe and the
// extraction hit the same URL.
type Source struct {
	Kind    models.SourceKind
	BaseURL string
	APIKey  string
}

func WeatherSource(baseURL, apiKey string) Source {
	if baseURL == "" {
		baseURL = DefaultWeatherURL
	}
	return Source{Kind: models.SourceWeather, BaseURL: baseURL, APIKey: apiKey}
}

func AirQualitySource(baseURL, apiKey string) Source {
	if baseURL == "" {
		baseURL = DefaultAirQualityURL
	}
	return Source{Kind: models.SourceAirQuality, BaseURL: baseURL, APIKey: apiKey}
}

// URL builds the query for coords. units=imperial is sent to both endpoints;
// air_pollution ignores it.
func (s Source) URL(coords models.Coordinates) string {
	q := url.Values{}
	q.Set("lat", coords.Latitude)
	q.Set("lon", coords.Longitude)
	q.Set("appid", s.APIKey)
	q.Set("units", "imperial")
	return s.BaseURL + "?" + q.Encode()
}

func (s Source) endpoint() string {
	switch s.Kind {
	case models.SourceWeather:
		return "data/2.5/weather"
	case models.SourceAirQuality:
		return "data/2.5/air_pollution"
	default:
		return string(s.Kind)
	}
}

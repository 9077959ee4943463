package models

import (
	"encoding/json"
	"strconv"
)

// Record is a normalized single-row table ready to be serialized. Numeric
// fields keep the literal upstream sent, so 70.0 is written as 70.0.
type Record interface {
	Source() SourceKind
	Header() []string
	Row() []string
}

type WeatherRecord struct {
	City        string
	Latitude    json.Number
	Longitude   json.Number
	Date        string // YYYY-MM-DD, local to the location
	RecordTime  string // HH:MM:SS, local to the location
	Description string
	Temperature json.Number
	FeelsLike   json.Number
	TempMin     json.Number
	TempMax     json.Number
	Pressure    json.Number
	Humidity    json.Number
	WindSpeed   json.Number
	Sunrise     string
	Sunset      string
}

var weatherHeader = []string{
	"City",
	"Latitude",
	"Longitude",
	"Date",
	"Record Time",
	"Description",
	"Temperature",
	"Temperature Feel (F)",
	"Minimum Temperature (F)",
	"Maximum Temperature (F)",
	"Pressure",
	"Humidity",
	"Wind Speed",
	"Sunrise (Local Time)",
	"Sunset (Local Time)",
}

func (r WeatherRecord) Source() SourceKind { return SourceWeather }

func (r WeatherRecord) Header() []string {
	return append([]string(nil), weatherHeader...)
}

func (r WeatherRecord) Row() []string {
	return []string{
		r.City,
		r.Latitude.String(),
		r.Longitude.String(),
		r.Date,
		r.RecordTime,
		r.Description,
		r.Temperature.String(),
		r.FeelsLike.String(),
		r.TempMin.String(),
		r.TempMax.String(),
		r.Pressure.String(),
		r.Humidity.String(),
		r.WindSpeed.String(),
		r.Sunrise,
		r.Sunset,
	}
}

type AirQualityRecord struct {
	AQI        int
	Date       string
	RecordTime string
	CO         json.Number
	NO         json.Number
	NO2        json.Number
	SO2        json.Number
	NH3        json.Number
	PM25       json.Number
	PM10       json.Number
}

var airQualityHeader = []string{
	"AQI", "Date", "Record Time", "co", "no", "no2", "so2", "nh3", "pm2_5", "pm10",
}

func (r AirQualityRecord) Source() SourceKind { return SourceAirQuality }

func (r AirQualityRecord) Header() []string {
	return append([]string(nil), airQualityHeader...)
}

func (r AirQualityRecord) Row() []string {
	return []string{
		strconv.Itoa(r.AQI),
		r.Date,
		r.RecordTime,
		r.CO.String(),
		r.NO.String(),
		r.NO2.String(),
		r.SO2.String(),
		r.NH3.String(),
		r.PM25.String(),
		r.PM10.String(),
	}
}

// Float reads n for range checks. An empty or malformed n reads as zero.
func Float(n json.Number) float64 {
	f, _ := n.Float64()
	return f
}

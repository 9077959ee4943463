package models

import (
	"encoding/json"
	"time"
)

// SourceKind identifies one upstream data source and its branch.
type SourceKind string

const (
	SourceWeather    SourceKind = "weather"
	SourceAirQuality SourceKind = "aqi"
)

// Coordinates are kept as the decimal strings the geocoder returned.
type Coordinates struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// RawResponse is one parsed upstream response. Never mutated after receipt.
type RawResponse struct {
	Source    SourceKind
	URL       string // with credentials redacted
	Status    int
	Body      json.RawMessage
	FetchedAt time.Time
}

// Extraction is either a fetched RawResponse or Empty when the source was
// unhealthy and extraction was skipped.
type Extraction struct {
	raw *RawResponse
}

// Empty is the extraction result for a skipped source.
func Empty() Extraction {
	return Extraction{}
}

// Fetched wraps a response received from a healthy source.
func Fetched(raw RawResponse) Extraction {
	return Extraction{raw: &raw}
}

func (e Extraction) IsEmpty() bool {
	return e.raw == nil
}

// Raw returns the response and true, or false when the extraction is Empty.
func (e Extraction) Raw() (RawResponse, bool) {
	if e.raw == nil {
		return RawResponse{}, false
	}
	return *e.raw, true
}

// RunTimestamp identifies a run: DDMMYYYYHHMMSS, fixed width, no separators.
type RunTimestamp string

const runTimestampLayout = "02012006150405"

func NewRunTimestamp(t time.Time) RunTimestamp {
	return RunTimestamp(t.Format(runTimestampLayout))
}

func (ts RunTimestamp) String() string {
	return string(ts)
}

// ObjectKey is the destination key for a source's record in this run.
func (ts RunTimestamp) ObjectKey(source SourceKind) string {
	return string(source) + "_data_" + string(ts) + ".csv"
}

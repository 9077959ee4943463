package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/lox/weatherlanding/internal/failure"
	"github.com/lox/weatherlanding/internal/models"
)

// The schemas list only what the records read. Extra upstream fields are fine.
const weatherSchema = `{
  "type": "object",
  "required": ["name", "coord", "dt", "timezone", "weather", "main", "wind", "sys"],
  "properties": {
    "name": {"type": "string"},
    "coord": {
      "type": "object",
      "required": ["lat", "lon"],
      "properties": {"lat": {"type": "number"}, "lon": {"type": "number"}}
    },
    "dt": {"type": "integer"},
    "timezone": {"type": "integer"},
    "weather": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["description"],
        "properties": {"description": {"type": "string"}}
      }
    },
    "main": {
      "type": "object",
      "required": ["temp", "feels_like", "temp_min", "temp_max", "pressure", "humidity"],
      "properties": {
        "temp": {"type": "number"},
        "feels_like": {"type": "number"},
        "temp_min": {"type": "number"},
        "temp_max": {"type": "number"},
        "pressure": {"type": "number"},
        "humidity": {"type": "number"}
      }
    },
    "wind": {
      "type": "object",
      "required": ["speed"],
      "properties": {"speed": {"type": "number"}}
    },
    "sys": {
      "type": "object",
      "required": ["sunrise", "sunset"],
      "properties": {"sunrise": {"type": "integer"}, "sunset": {"type": "integer"}}
    }
  }
}`

const airQualitySchema = `{
  "type": "object",
  "required": ["list"],
  "properties": {
    "list": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["dt", "main", "components"],
        "properties": {
          "dt": {"type": "integer"},
          "main": {
            "type": "object",
            "required": ["aqi"],
            "properties": {"aqi": {"type": "integer"}}
          },
          "components": {
            "type": "object",
            "required": ["co", "no", "no2", "so2", "nh3", "pm2_5", "pm10"],
            "properties": {
              "co": {"type": "number"},
              "no": {"type": "number"},
              "no2": {"type": "number"},
              "so2": {"type": "number"},
              "nh3": {"type": "number"},
              "pm2_5": {"type": "number"},
              "pm10": {"type": "number"}
            }
          }
        }
      }
    }
  }
}`

var schemas = map[models.SourceKind]*gojsonschema.Schema{
	models.SourceWeather:    mustSchema(weatherSchema),
	models.SourceAirQuality: mustSchema(airQualitySchema),
}

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}

// checkSchema validates body against the schema for kind and returns a
// failure.ErrSchema listing every problem, missing fields first.
func checkSchema(kind models.SourceKind, body []byte) error {
	schema, ok := schemas[kind]
	if !ok {
		return failure.Newf(failure.ErrSchema, "no schema for source %q", kind)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return failure.Mark(err, failure.ErrSchema, fmt.Sprintf("%s response", kind))
	}
	if result.Valid() {
		return nil
	}

	var missing, invalid []string
	for _, re := range result.Errors() {
		if re.Type() == "required" {
			missing = append(missing, fieldPath(re.Field(), fmt.Sprint(re.Details()["property"])))
			continue
		}
		invalid = append(invalid, re.String())
	}
	sort.Strings(missing)
	sort.Strings(invalid)

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ", "))
	}
	parts = append(parts, invalid...)
	return failure.Newf(failure.ErrSchema, "%s response: %s", kind, strings.Join(parts, "; "))
}

func fieldPath(parent, property string) string {
	if parent == "" || parent == "(root)" {
		return property
	}
	return parent + "." + property
}

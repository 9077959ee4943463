package config

import (
	"os"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Secret names looked up through a Secrets provider.
const (
	CoordinatesKey = "COORDINATES_KEY"
	WeatherKey     = "WEATHER_KEY"
)

// Secrets resolves named credentials. Implementations must not log values.
type Secrets interface {
	Get(name string) (string, bool)
}

// EnvSecrets reads secrets from the process environment. Blank values count
// as missing.
type EnvSecrets struct{}

func (EnvSecrets) Get(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// MapSecrets is a fixed set of secrets, used in tests and dry runs.
type MapSecrets map[string]string

func (m MapSecrets) Get(name string) (string, bool) {
	v, ok := m[name]
	return v, ok && v != ""
}

// Credentials are the API keys a run needs.
type Credentials struct {
	CoordinatesKey string
	WeatherKey     string
}

// LoadCredentials fetches every required key, naming all missing ones in a
// single error.
func LoadCredentials(s Secrets) (Credentials, error) {
	var (
		creds   Credentials
		missing []string
	)
	for name, dst := range map[string]*string{
		CoordinatesKey: &creds.CoordinatesKey,
		WeatherKey:     &creds.WeatherKey,
	} {
		v, ok := s.Get(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		*dst = v
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Credentials{}, errors.Newf("missing required secrets: %s", strings.Join(missing, ", "))
	}
	return creds, nil
}

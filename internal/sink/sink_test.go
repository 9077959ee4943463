package sink

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lox/weatherlanding/internal/failure"
	"github.com/lox/weatherlanding/internal/models"
)

func sampleAirQuality() models.AirQualityRecord {
	return models.AirQualityRecord{
		AQI: 2, Date: "2024-08-01", RecordTime: "12:00:00",
		CO: "230.31", NO: "0.12", NO2: "7.11", SO2: "0.95", NH3: "0.6", PM25: "3.1", PM10: "5.42",
	}
}

func TestEncodeCSV(t *testing.T) {
	body, err := EncodeCSV(sampleAirQuality())
	require.NoError(t, err)
	assert.Equal(t,
		"AQI,Date,Record Time,co,no,no2,so2,nh3,pm2_5,pm10\n"+
			"2,2024-08-01,12:00:00,230.31,0.12,7.11,0.95,0.6,3.1,5.42\n",
		string(body))
}

func TestEncodeCSV_QuotesCommas(t *testing.T) {
	rec := models.WeatherRecord{City: "Washington, D.C.", Description: "light rain"}
	body, err := EncodeCSV(rec)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"Washington, D.C."`)
}

func TestConfirmation(t *testing.T) {
	assert.Equal(t,
		"weather_data_01082024160000 was successfully uploaded to weather-data-landing-bucket",
		Confirmation("weather-data-landing-bucket", "weather_data_01082024160000.csv"))
}

func TestLoad_CreatesContainerOnce(t *testing.T) {
	store := NewMemoryStore()
	l := NewLoader(store, zaptest.NewLogger(t))
	ctx := context.Background()

	msg, err := l.Load(ctx, sampleAirQuality(), "aqi-data-landing-bucket", "aqi_data_01082024160000.csv")
	require.NoError(t, err)
	assert.Equal(t, "aqi_data_01082024160000 was successfully uploaded to aqi-data-landing-bucket", msg)

	_, err = l.Load(ctx, sampleAirQuality(), "aqi-data-landing-bucket", "aqi_data_01082024170000.csv")
	require.NoError(t, err)

	names, err := store.ListContainers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aqi-data-landing-bucket"}, names)
	assert.Equal(t, 1, store.Creates())
	assert.Equal(t, []string{"aqi_data_01082024160000.csv", "aqi_data_01082024170000.csv"},
		store.Keys("aqi-data-landing-bucket"))

	body, err := store.GetObject(ctx, "aqi-data-landing-bucket", "aqi_data_01082024160000.csv")
	require.NoError(t, err)
	want, _ := EncodeCSV(sampleAirQuality())
	assert.Equal(t, want, body)
}

func TestEnsureContainer_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	l := NewLoader(store, zaptest.NewLogger(t))

	require.NoError(t, l.EnsureContainer(context.Background(), "weather-data-landing-bucket"))
	require.NoError(t, l.EnsureContainer(context.Background(), "weather-data-landing-bucket"))
	require.NoError(t, store.CreateContainer(context.Background(), "weather-data-landing-bucket"))

	names, _ := store.ListContainers(context.Background())
	assert.Len(t, names, 1)
	assert.Equal(t, 1, store.Creates())
}

func TestEnsureContainer_ConcurrentBranches(t *testing.T) {
	store := NewMemoryStore()
	l := NewLoader(store, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.EnsureContainer(context.Background(), "shared"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, store.Creates())
}

// failingStore fails the named operation.
type failingStore struct {
	*MemoryStore
	failOn string
}

func (f *failingStore) ListContainers(ctx context.Context) ([]string, error) {
	if f.failOn == "list" {
		return nil, errors.New("access denied")
	}
	return f.MemoryStore.ListContainers(ctx)
}

func (f *failingStore) CreateContainer(ctx context.Context, name string) error {
	if f.failOn == "create" {
		return errors.New("quota exceeded")
	}
	return f.MemoryStore.CreateContainer(ctx, name)
}

func (f *failingStore) PutObject(ctx context.Context, container, key string, body []byte) error {
	if f.failOn == "put" {
		return errors.New("connection reset")
	}
	return f.MemoryStore.PutObject(ctx, container, key, body)
}

func TestLoad_StorageErrors(t *testing.T) {
	for _, op := range []string{"list", "create", "put"} {
		t.Run(op, func(t *testing.T) {
			store := &failingStore{MemoryStore: NewMemoryStore(), failOn: op}
			l := NewLoader(store, zaptest.NewLogger(t))

			msg, err := l.Load(context.Background(), sampleAirQuality(), "c", "k.csv")
			require.Error(t, err)
			assert.Empty(t, msg)
			assert.True(t, errors.Is(err, failure.ErrStorage), "want StorageError, got %v", err)
		})
	}
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), Options{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = Open(context.Background(), Options{Backend: BackendFTP, FTPAddr: "ftp.example.com:21"})
	require.NoError(t, err)
	ftpStore := store.(*FTPStore)
	assert.Equal(t, "anonymous", ftpStore.User)
	assert.Equal(t, "/", ftpStore.Root)

	_, err = Open(context.Background(), Options{Backend: BackendFTP})
	assert.Error(t, err)

	_, err = Open(context.Background(), Options{Backend: BackendGCS})
	assert.Error(t, err)

	_, err = Open(context.Background(), Options{Backend: "tape"})
	assert.Error(t, err)
}

package failure

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	transport := Mark(errors.New("connection refused"), ErrNetwork, "GET /air_pollution")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "unmarked", err: errors.New("boom"), want: nil},
		{name: "schema", err: Newf(ErrSchema, "missing field %s", "main.temp"), want: ErrSchema},
		{name: "wrapped storage", err: errors.Wrap(Mark(errors.New("denied"), ErrStorage, "put object"), "load"), want: ErrStorage},
		{name: "network only", err: transport, want: ErrNetwork},
		{name: "stage kind outranks network", err: Mark(transport, ErrExtraction, "extract aqi"), want: ErrExtraction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestMark_Nil(t *testing.T) {
	assert.NoError(t, Mark(nil, ErrStorage, "put object"))
}

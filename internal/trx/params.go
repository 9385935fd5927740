package trx

import (
	"strconv"
	"strings"

	"github.com/rjboer/GoTRX/internal/logging"
	"github.com/rjboer/GoTRX/internal/sdr"
)

// ParamStore is the host's named configuration lookup.
type ParamStore interface {
	Float(name string) (float64, bool)
	String(name string) (string, bool)
}

// MapParams is a ParamStore over a string map. Numeric lookups parse the
// stored text and report missing for values that do not parse.
type MapParams map[string]string

func (m MapParams) Float(name string) (float64, bool) {
	raw, ok := m[name]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (m MapParams) String(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Host is what the baseband application hands the driver at Init.
type Host struct {
	// APIVersion must equal the driver's APIVersion.
	APIVersion int
	// Path is the base directory config_file is resolved against.
	Path    string
	Params  ParamStore
	Devices sdr.Enumerator
	Logger  logging.Logger
	// MarkerPath overrides DefaultMarkerPath.
	MarkerPath string
}

package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelope is a provider response body decoded one level deep.
//
// The provider wraps payloads inconsistently: the same endpoint may answer
// {"devices": [...]} or {"data": [...]}. decode takes the candidate field names
// in priority order and uses the first one that is present and not null. A
// present field holding an empty array is a valid, empty result; when no
// candidate is present the response is malformed.
type envelope map[string]json.RawMessage

// Field names per resource, highest priority first.
var (
	devicesFields   = []string{"devices", "data"}
	deviceFields    = []string{"device", "data"}
	positionFields  = []string{"position", "data"}
	positionsFields = []string{"positions", "data"}
	trackFields     = []string{"track", "data"}
	alertsFields    = []string{"alerts", "data"}
	geofenceFields  = []string{"geofence", "data"}
)

func parseEnvelope(body []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env == nil {
		return nil, fmt.Errorf("%w: body is null", ErrMalformedResponse)
	}
	return env, nil
}

func (e envelope) decode(out interface{}, fields ...string) error {
	for _, f := range fields {
		raw, ok := e[f]
		if !ok || isNull(raw) {
			continue
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrMalformedResponse, f, err)
		}
		return nil
	}
	return fmt.Errorf("%w: none of %v present", ErrMalformedResponse, fields)
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

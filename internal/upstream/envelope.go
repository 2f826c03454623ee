package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/edudata-io/sis-sync/internal/models"
)

// wrapperKeys are the object keys the upstream APIs are known to nest list
// payloads under. Probed in order; first present array wins.
var wrapperKeys = []string{"items", "data", "results", "rows"}

// NormalizeRecords flattens the payload shapes the upstream APIs produce
// into a record list:
//
//   - a bare JSON array of objects
//   - an object wrapping an array under one of wrapperKeys
//   - an empty object (empty page)
//   - any other non-empty object (single-record page)
func NormalizeRecords(payload json.RawMessage) ([]models.RawRecord, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var asList []models.RawRecord
	if err := json.Unmarshal(payload, &asList); err == nil {
		return asList, nil
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(payload, &asObject); err != nil {
		return nil, fmt.Errorf("unrecognized upstream payload: %w", err)
	}

	for _, key := range wrapperKeys {
		raw, ok := asObject[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &asList); err == nil {
			return asList, nil
		}
	}

	if len(asObject) == 0 {
		return nil, nil
	}

	var single models.RawRecord
	if err := json.Unmarshal(payload, &single); err != nil {
		return nil, fmt.Errorf("unrecognized upstream payload: %w", err)
	}
	return []models.RawRecord{single}, nil
}

package workflow

import (
	"encoding/json"
	"fmt"
)

// MergeJSON merges resume input r into partial state p. Objects merge
// recursively with r winning on conflicts; any non-object value of r
// replaces p. An empty side yields the other.
func MergeJSON(p, r json.RawMessage) (json.RawMessage, error) {
	if isEmptyJSON(r) {
		return p, nil
	}
	if isEmptyJSON(p) {
		return r, nil
	}

	var pv, rv any
	if err := json.Unmarshal(p, &pv); err != nil {
		return nil, fmt.Errorf("decode partial state: %w", err)
	}
	if err := json.Unmarshal(r, &rv); err != nil {
		return nil, fmt.Errorf("decode resume input: %w", err)
	}
	return json.Marshal(mergeValues(pv, rv))
}

func mergeValues(p, r any) any {
	pm, pok := p.(map[string]any)
	rm, rok := r.(map[string]any)
	if !pok || !rok {
		return r
	}
	out := make(map[string]any, len(pm)+len(rm))
	for k, v := range pm {
		out[k] = v
	}
	for k, v := range rm {
		if existing, ok := out[k]; ok {
			out[k] = mergeValues(existing, v)
			continue
		}
		out[k] = v
	}
	return out
}

func isEmptyJSON(data json.RawMessage) bool {
	if len(data) == 0 {
		return true
	}
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return false
	}
	return true
}

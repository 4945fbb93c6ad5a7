package action

import (
	"encoding/json"
	"strings"
)

// Candidate is a raw planner suggestion before whitelisting.
type Candidate struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Whitelist keeps catalog actions only, coerces params to scalars, and renames
// a search "query" param to "term".
func Whitelist(candidates []Candidate) []Action {
	out := make([]Action, 0, len(candidates))
	for _, c := range candidates {
		name := Name(strings.TrimSpace(c.Action))
		if !Known(name) {
			continue
		}
		params := scalarParams(c.Params)
		if name == Search {
			if q, ok := params["query"]; ok {
				if _, hasTerm := params["term"]; !hasTerm {
					params["term"] = q
				}
				delete(params, "query")
			}
		}
		out = append(out, Action{Name: name, Params: params})
	}
	return out
}

// Dedupe collapses exact duplicates, keeping the first occurrence.
func Dedupe(actions []Action) []Action {
	seen := make(map[string]struct{}, len(actions))
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		k := key(a)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, a)
	}
	return out
}

func scalarParams(raw json.RawMessage) Params {
	params := Params{}
	if len(raw) == 0 {
		return params
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return params
	}
	for k, v := range decoded {
		switch v.(type) {
		case string, float64, bool:
			params[k] = v
		}
	}
	return params
}

package source

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bastiangx/hound/pkg/suggest"
)

// TransformFunc maps a raw JSON body onto items.
type TransformFunc func(body []byte) ([]suggest.Item, error)

var transforms = map[string]TransformFunc{
	"facts":        Facts,
	"environments": Environments,
	"plans":        namedItems("plans"),
	"tasks":        namedItems("tasks"),
	"strings":      Strings,
}

// LookupTransform returns the transform registered under name.
func LookupTransform(name string) (TransformFunc, error) {
	if name == "" {
		name = "strings"
	}
	fn, ok := transforms[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q (known: %s)", name, strings.Join(TransformNames(), ", "))
	}
	return fn, nil
}

// TransformNames lists the registered transforms, sorted.
func TransformNames() []string {
	names := make([]string, 0, len(transforms))
	for n := range transforms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type fact struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Count int    `json:"count"`
}

// Facts reads a PuppetDB fact-value list, [{"value": ..., "count": n}, ...].
// Empty values are skipped and the fact name is kept as metadata.
func Facts(body []byte) ([]suggest.Item, error) {
	var facts []fact
	if err := json.Unmarshal(body, &facts); err != nil {
		return nil, err
	}
	out := make([]suggest.Item, 0, len(facts))
	for _, f := range facts {
		v := scalarString(f.Value)
		if v == "" {
			continue
		}
		it := suggest.Item{Value: v, Count: f.Count}
		if f.Name != "" {
			it.Meta = map[string]string{"fact": f.Name}
		}
		out = append(out, it)
	}
	return out, nil
}

// Environments reads {"environments": [...]} where entries are either plain
// names or objects with a "name" field.
func Environments(body []byte) ([]suggest.Item, error) {
	var payload struct {
		Environments []json.RawMessage `json:"environments"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload.Environments == nil {
		return nil, fmt.Errorf("missing \"environments\" field")
	}
	out := make([]suggest.Item, 0, len(payload.Environments))
	for i, raw := range payload.Environments {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			var obj struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, fmt.Errorf("environments[%d]: %w", i, err)
			}
			name = obj.Name
		}
		if name != "" {
			out = append(out, suggest.Item{Value: name})
		}
	}
	return out, nil
}

// namedItems reads {"<field>": {"items": [{"name": ...}, ...]}}, the shape
// of the orchestrator plan and task listings.
func namedItems(field string) TransformFunc {
	return func(body []byte) ([]suggest.Item, error) {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}
		raw, ok := payload[field]
		if !ok {
			return nil, fmt.Errorf("missing %q field", field)
		}
		var listing struct {
			Items []struct {
				Name        string `json:"name"`
				Environment struct {
					Name string `json:"name"`
				} `json:"environment"`
			} `json:"items"`
		}
		if err := json.Unmarshal(raw, &listing); err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		out := make([]suggest.Item, 0, len(listing.Items))
		for _, it := range listing.Items {
			if it.Name == "" {
				continue
			}
			item := suggest.Item{Value: it.Name}
			if env := it.Environment.Name; env != "" {
				item.Meta = map[string]string{"environment": env}
			}
			out = append(out, item)
		}
		return out, nil
	}
}

// Strings reads a plain JSON array of strings.
func Strings(body []byte) ([]suggest.Item, error) {
	var values []string
	if err := json.Unmarshal(body, &values); err != nil {
		return nil, err
	}
	out := make([]suggest.Item, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, suggest.Item{Value: v})
		}
	}
	return out, nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64, bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

// jsonMessage pulls the "message" field out of an error payload such as
// {"status": "error", "message": "..."}.
func jsonMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}

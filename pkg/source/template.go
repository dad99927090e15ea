// Package source turns parameterized endpoint templates into fetchable
// suggest.Source values and fetches their JSON payloads over HTTP.
package source

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bastiangx/hound/pkg/suggest"
)

// Template is an endpoint path with {param} placeholders, e.g.
//
//	/config/puppetServer/{server}/apiPlans/{environment}
type Template string

// MissingParamError is returned when a placeholder has neither a value nor a default.
type MissingParamError struct {
	Template Template
	Param    string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("template %s: no value for {%s}", e.Template, e.Param)
}

// Params lists the placeholder names in order of appearance, without repeats.
func (t Template) Params() []string {
	var names []string
	seen := make(map[string]bool)
	s := string(t)
	for {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			return names
		}
		end := strings.IndexByte(s[open:], '}')
		if end < 0 {
			return names
		}
		name := s[open+1 : open+end]
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		s = s[open+end+1:]
	}
}

// Uses reports whether the template references param.
func (t Template) Uses(param string) bool {
	return strings.Contains(string(t), "{"+param+"}")
}

// Expand substitutes every placeholder. Values are path-escaped; a blank
// value falls back to defaults, and a placeholder with neither is an error.
func (t Template) Expand(values, defaults map[string]string) (string, error) {
	out := string(t)
	for _, name := range t.Params() {
		v := strings.TrimSpace(values[name])
		if v == "" {
			v = strings.TrimSpace(defaults[name])
		}
		if v == "" {
			return "", &MissingParamError{Template: t, Param: name}
		}
		out = strings.ReplaceAll(out, "{"+name+"}", url.PathEscape(v))
	}
	return out, nil
}

// Resolve expands the template into a named suggest.Source.
func (t Template) Resolve(name string, values, defaults map[string]string) (suggest.Source, error) {
	u, err := t.Expand(values, defaults)
	if err != nil {
		return suggest.Source{}, err
	}
	return suggest.Source{Name: name, URL: u}, nil
}

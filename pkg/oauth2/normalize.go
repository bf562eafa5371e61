package oauth2

import (
	"encoding/json"
	"fmt"
	"strings"
)

// fieldMap lists, per canonical profile field, the candidate paths into a
// provider payload. Paths are dotted ("picture.data.url"); the first non-empty
// match wins. Top-level keys not consumed by any path end up in Metadata.
type fieldMap struct {
	id      []string
	name    []string
	email   []string
	picture []string
	status  []string
}

func (m fieldMap) normalize(raw map[string]any) *Profile {
	consumed := make(map[string]struct{})

	pick := func(paths []string) string {
		for _, p := range paths {
			if v, ok := lookup(raw, p); ok {
				consumed[strings.SplitN(p, ".", 2)[0]] = struct{}{}
				if s := stringify(v); s != "" {
					return s
				}
			}
		}
		return ""
	}

	profile := &Profile{
		ProviderUserID: pick(m.id),
		Name:           pick(m.name),
		Email:          pick(m.email),
		PictureURL:     pick(m.picture),
		StatusMessage:  pick(m.status),
	}

	for k, v := range raw {
		if _, ok := consumed[k]; ok {
			continue
		}
		if profile.Metadata == nil {
			profile.Metadata = make(map[string]any)
		}
		profile.Metadata[k] = v
	}
	return profile
}

func lookup(raw map[string]any, path string) (any, bool) {
	var cur any = raw
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return fmt.Sprintf("%.0f", t)
	case nil, map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

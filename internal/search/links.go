package search

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/rotisserie/eris"
)

// Object is a decoded JSON object with its key order preserved.
type Object []Member

// Member is one key/value pair of an Object.
type Member struct {
	Key   string
	Value any
}

// Decode parses JSON like encoding/json into an any value, except that
// objects decode to Object so document order survives.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err == nil {
		return nil, eris.New("search: trailing data after json value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, eris.Wrap(err, "search: decode json")
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			var obj Object
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, eris.Wrap(err, "search: decode object key")
				}
				key, _ := keyTok.(string)
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj = append(obj, Member{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return nil, eris.Wrap(err, "search: decode object end")
			}
			return obj, nil
		case '[':
			arr := []any{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, eris.Wrap(err, "search: decode array end")
			}
			return arr, nil
		}
		return nil, eris.Errorf("search: unexpected delimiter %q", t)
	default:
		return t, nil
	}
}

// ExtractLinks walks a decoded JSON value and collects every string stored
// under a "link" key and every string element of a "links" array, at any
// depth. Duplicates are dropped, first occurrence wins. Plain maps are
// walked in key order since they carry no document order.
func ExtractLinks(v any) []string {
	seen := make(map[string]struct{})
	var out []string
	walkLinks(v, func(link string) {
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		out = append(out, link)
	})
	return out
}

func walkLinks(v any, emit func(string)) {
	switch node := v.(type) {
	case Object:
		for _, m := range node {
			visitMember(m.Key, m.Value, emit)
		}
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			visitMember(k, node[k], emit)
		}
	case []any:
		for _, item := range node {
			walkLinks(item, emit)
		}
	}
}

func visitMember(key string, value any, emit func(string)) {
	switch key {
	case "link":
		if s, ok := value.(string); ok {
			emit(s)
			return
		}
	case "links":
		if arr, ok := value.([]any); ok {
			for _, item := range arr {
				if s, ok := item.(string); ok {
					emit(s)
				}
			}
			return
		}
	}
	walkLinks(value, emit)
}

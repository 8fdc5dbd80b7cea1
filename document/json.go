package document

import (
	"sort"

	"github.com/tsawler/docworker/core"
)

// maxJSONDepth bounds the conversion of nested objects.
const maxJSONDepth = 10

func resolveDict(r core.Resolver, obj core.Object) (core.Dict, bool) {
	v, err := r.Resolve(obj)
	if err != nil {
		return nil, false
	}
	d, ok := v.(core.Dict)
	return d, ok
}

func resolveArray(r core.Resolver, obj core.Object) core.Array {
	v, err := r.Resolve(obj)
	if err != nil {
		return nil
	}
	a, _ := v.(core.Array)
	return a
}

func resolveString(r core.Resolver, obj core.Object) (string, bool) {
	v, err := r.Resolve(obj)
	if err != nil {
		return "", false
	}
	s, ok := v.(core.String)
	if !ok {
		return "", false
	}
	return core.DecodeTextString(s), true
}

func resolveName(r core.Resolver, obj core.Object) (string, bool) {
	v, err := r.Resolve(obj)
	if err != nil {
		return "", false
	}
	n, ok := v.(core.Name)
	return string(n), ok
}

func floatsOr(r core.Resolver, obj core.Object, def []float64) []float64 {
	arr := resolveArray(r, obj)
	if arr == nil {
		return def
	}
	out := make([]float64, 0, len(arr))
	for _, item := range arr {
		v, err := r.Resolve(item)
		if err != nil {
			return def
		}
		f, ok := core.ToFloat(v)
		if !ok {
			return def
		}
		out = append(out, f)
	}
	return out
}

// jsValue returns the script of a JavaScript action, which is a string
// or a stream.
func jsValue(r core.Resolver, action core.Dict) (string, bool) {
	if s, _ := action.GetName("S"); s != "JavaScript" {
		return "", false
	}
	v, err := r.Resolve(action.Get("JS"))
	if err != nil {
		return "", false
	}
	switch js := v.(type) {
	case core.String:
		return core.DecodeTextString(js), true
	case *core.Stream:
		data, err := js.Decode()
		if err != nil {
			return "", false
		}
		return core.DecodeTextString(core.String(data)), true
	}
	return "", false
}

// collectActions maps the JavaScript actions of an additional-actions
// dictionary to event names. Chained /Next actions are appended.
func collectActions(r core.Resolver, aa core.Dict, events map[string]string) map[string][]string {
	var out map[string][]string
	keys := aa.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		event, ok := events[key]
		if !ok {
			event = key
		}
		action, ok := resolveDict(r, aa.Get(key))
		for depth := 0; ok && depth < maxJSONDepth; depth++ {
			if js, ok := jsValue(r, action); ok {
				if out == nil {
					out = make(map[string][]string)
				}
				out[event] = append(out[event], js)
			}
			action, ok = resolveDict(r, action.Get("Next"))
		}
	}
	return out
}

// jsonValue converts obj into plain values for the wire: text strings
// decoded, names as strings, references as "NR" keys below the top level.
func jsonValue(r core.Resolver, obj core.Object, depth int) any {
	if depth > maxJSONDepth {
		return nil
	}
	if ref, ok := obj.(core.IndirectRef); ok && depth > 0 {
		return ref.Key()
	}
	v, err := r.Resolve(obj)
	if err != nil {
		return nil
	}
	switch x := v.(type) {
	case core.Bool:
		return bool(x)
	case core.Int:
		return int64(x)
	case core.Real:
		return float64(x)
	case core.Name:
		return string(x)
	case core.String:
		return core.DecodeTextString(x)
	case core.Array:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = jsonValue(r, item, depth+1)
		}
		return out
	case core.Dict:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = jsonValue(r, item, depth+1)
		}
		return out
	case *core.Stream:
		return jsonValue(r, x.Dict, depth)
	}
	return nil
}

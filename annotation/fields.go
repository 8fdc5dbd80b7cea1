package annotation

import (
	"fmt"
	"reflect"

	"github.com/tsawler/docworker/core"
)

// SaveFields writes the stored values of the widgets in annots. Only
// widgets whose value differs from the document are rewritten. Text and
// choice fields lose their appearance and are flagged for regeneration.
func SaveFields(r core.Resolver, enc core.Encrypter, annots core.Array, fields map[core.IndirectRef]FieldValue, changes *core.ChangeSet, check func() error) error {
	if len(fields) == 0 {
		return nil
	}
	for _, item := range annots {
		if check != nil {
			if err := check(); err != nil {
				return err
			}
		}
		ref, ok := item.(core.IndirectRef)
		if !ok {
			continue
		}
		stored, ok := fields[ref]
		if !ok {
			continue
		}
		dict, ok := resolve(r, ref).(core.Dict)
		if !ok {
			continue
		}
		if st, _ := dict.GetName("Subtype"); st != "Widget" {
			continue
		}
		if err := saveField(r, enc, ref, dict, stored.Value, changes); err != nil {
			return err
		}
	}
	return nil
}

func saveField(r core.Resolver, enc core.Encrypter, ref core.IndirectRef, dict core.Dict, value any, changes *core.ChangeSet) error {
	ft, _ := inheritedField(r, dict, "FT").(core.Name)
	switch ft {
	case "Btn":
		return saveButton(r, enc, ref, dict, value, changes)
	case "Tx", "Ch":
		v, ok := fieldObject(value)
		if !ok || sameValue(r, inheritedField(r, dict, "V"), v) {
			return nil
		}
		out := dict.Clone()
		out["V"] = v
		out["M"] = pdfDate(now())
		delete(out, "AP")
		if err := changes.PutObject(ref, out, enc, true); err != nil {
			return fmt.Errorf("failed to write field %s: %w", ref, err)
		}
	}
	return nil
}

// saveButton sets a checkbox or radio to its export state or Off.
func saveButton(r core.Resolver, enc core.Encrypter, ref core.IndirectRef, dict core.Dict, value any, changes *core.ChangeSet) error {
	on, ok := value.(bool)
	if !ok {
		return nil
	}
	state := core.Name("Off")
	if on {
		state = exportValue(r, dict)
	}
	if cur, _ := dict.GetName("AS"); cur == state {
		return nil
	}
	out := dict.Clone()
	out["AS"] = state
	out["V"] = state
	out["M"] = pdfDate(now())
	if err := changes.PutObject(ref, out, enc, false); err != nil {
		return fmt.Errorf("failed to write field %s: %w", ref, err)
	}
	return nil
}

// exportValue returns the "on" state name of a button widget.
func exportValue(r core.Resolver, dict core.Dict) core.Name {
	ap, _ := resolve(r, dict.Get("AP")).(core.Dict)
	n, _ := resolve(r, ap.Get("N")).(core.Dict)
	for _, k := range n.Keys() {
		if k != "Off" {
			return core.Name(k)
		}
	}
	return core.Name("Yes")
}

func fieldObject(value any) (core.Object, bool) {
	switch v := value.(type) {
	case string:
		return core.EncodeTextString(v), true
	case []any:
		arr := make(core.Array, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			arr = append(arr, core.EncodeTextString(s))
		}
		return arr, true
	}
	return nil, false
}

func sameValue(r core.Resolver, cur, next core.Object) bool {
	decode := func(obj core.Object) any {
		switch v := resolve(r, obj).(type) {
		case core.String:
			return core.DecodeTextString(v)
		case core.Array:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, _ := resolve(r, item).(core.String)
				out = append(out, core.DecodeTextString(s))
			}
			return out
		}
		return nil
	}
	return reflect.DeepEqual(decode(cur), decode(next))
}

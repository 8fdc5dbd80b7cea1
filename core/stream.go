package core

import (
	"fmt"

	"github.com/tsawler/docworker/internal/filters"
)

// Decode returns the stream data with its /Filter chain applied in order.
// Image codecs are left encoded.
func (s *Stream) Decode() ([]byte, error) {
	names, parms, err := s.filterChain()
	if err != nil {
		return nil, err
	}
	data := s.Data
	for i, name := range names {
		if data, err = filters.Decode(name, data, decodeParams(parms[i])); err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
	}
	return data, nil
}

// filterChain pairs each filter name with its /DecodeParms dictionary. A
// single parameter dictionary applies to every filter.
func (s *Stream) filterChain() ([]string, []Dict, error) {
	var names []string
	switch f := s.Dict.Get("Filter").(type) {
	case nil, Null:
		return nil, nil, nil
	case Name:
		names = []string{string(f)}
	case Array:
		for i, o := range f {
			n, ok := o.(Name)
			if !ok {
				return nil, nil, fmt.Errorf("filter %d is %T, not a name", i, o)
			}
			names = append(names, string(n))
		}
	default:
		return nil, nil, fmt.Errorf("invalid /Filter %T", f)
	}

	parms := make([]Dict, len(names))
	switch dp := s.Dict.Get("DecodeParms").(type) {
	case Dict:
		for i := range parms {
			parms[i] = dp
		}
	case Array:
		for i := range parms {
			if i < len(dp) {
				parms[i], _ = dp[i].(Dict)
			}
		}
	}
	return names, parms, nil
}

func decodeParams(d Dict) filters.Params {
	p := filters.NewParams()
	ints := map[string]*int{
		"Predictor":        &p.Predictor,
		"Colors":           &p.Colors,
		"BitsPerComponent": &p.BitsPerComponent,
		"Columns":          &p.Columns,
		"EarlyChange":      &p.EarlyChange,
		"K":                &p.K,
		"Rows":             &p.Rows,
	}
	for key, dst := range ints {
		if v, ok := ToInt(d.Get(key)); ok {
			*dst = v
		}
	}
	if b, ok := d.GetBool("BlackIs1"); ok {
		p.BlackIs1 = bool(b)
	}
	if b, ok := d.GetBool("EncodedByteAlign"); ok {
		p.EncodedByteAlign = bool(b)
	}
	return p
}

// NewFlateStream builds a Flate-compressed stream from raw data. Extra dict
// entries are copied; /Length and /Filter are set.
func NewFlateStream(dict Dict, data []byte) (*Stream, error) {
	encoded, err := filters.FlateEncode(data)
	if err != nil {
		return nil, err
	}
	d := make(Dict, len(dict)+2)
	for k, v := range dict {
		d[k] = v
	}
	d["Filter"] = Name("FlateDecode")
	d["Length"] = Int(len(encoded))
	delete(d, "DecodeParms")
	return &Stream{Dict: d, Data: encoded}, nil
}

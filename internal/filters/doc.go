// Package filters decodes the standard PDF stream filters.
//
// Decode looks a filter up by its full or abbreviated name and runs it
// with the stream's decode parameters:
//
//	p := filters.NewParams()
//	p.Predictor, p.Columns = 12, 5
//	out, err := filters.Decode("FlateDecode", data, p)
//
// FlateDecode and LZWDecode apply TIFF and PNG predictors. Image codecs
// (DCTDecode, JPXDecode, JBIG2Decode) and the Identity crypt filter pass
// their input through. FlateEncode produces streams for incremental
// updates.
package filters

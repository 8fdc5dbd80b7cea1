// Package core is the PDF object layer: the object model, syntax parsing,
// cross-reference resolution and object serialization.
//
// Objects are plain Go values ([Null], [Bool], [Int], [Real], [String],
// [Name], [Array], [Dict]) plus [*Stream] and [IndirectRef]. [Parser]
// reads them from a [Lexer] token stream and [Stream.Decode] applies the
// stream's filter chain.
//
// [XRef] merges every xref section of a file (tables, xref streams,
// hybrid /XRefStm and /Prev chains), then fetches, caches and decrypts
// objects on demand, including objects packed into an [ObjectStream].
// In recovery mode the table is rebuilt by scanning the file for object
// headers, and streams with a wrong /Length are cut at "endstream".
//
// [WriteObject] and [WriteIndirectObject] serialize objects for
// incremental updates; a [ChangeSet] collects the objects one save
// rewrites.
package core

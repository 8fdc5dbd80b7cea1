// Package incremental appends changed objects to an existing PDF file.
//
// An update leaves the original bytes untouched and adds the rewritten
// objects followed by a new cross-reference section, either a classic table
// or an xref stream depending on what the original file uses. The new
// trailer links back to the previous section with /Prev, keeps the first
// element of /ID and derives a fresh second element.
//
// Form data is folded into the update as well: when appearances must be
// regenerated the /AcroForm dictionary gains /NeedAppearances, and for XFA
// forms the serialized datasets packet replaces the datasets stream.
package incremental

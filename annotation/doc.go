// Package annotation reads page annotations and writes the ones a host
// creates or edits.
//
// [Collect] describes the annotations of a page as [Data] values filtered
// by intent ("display", "print" or any other value for all of them). Links
// carry their URI or destination, widgets their qualified field name, type
// and value.
//
// # Saving
//
// Host storage arrives as a JSON object. [ParseStorage] splits it into
// values for existing form fields, keyed by widget reference, and [Editor]
// entries for annotations drawn by the host (keys starting with
// [EditorPrefix]). Free text, ink, highlight and stamp annotations are
// supported:
//
//	storage, err := annotation.ParseStorage(raw)
//	for pageIndex, editors := range storage.ByPage() {
//		err = annotation.WriteNew(xref, xref, enc, pageRef, pageDict, editors, changes)
//	}
//
// Every written annotation gets a generated appearance stream so viewers
// that do not regenerate appearances still show it. [SaveFields] updates
// widget values in place and flags text fields for appearance
// regeneration.
package annotation

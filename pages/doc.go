// Package pages walks the page tree of a document.
//
// A [PageTree] flattens /Pages into document order the first time it is
// asked for a page, keeping each leaf's ancestors so that inheritable
// attributes can be looked up later. Trees deeper than a fixed bound or
// whose /Kids revisit a node fail with an error instead of looping:
//
//	tree := pages.NewPageTree(pagesDict, resolver)
//	page, err := tree.GetPage(0)
//	idx, err := tree.PageIndex(*page.Ref())
//
// [Page] reads the attributes of one leaf. /MediaBox, /CropBox, /Rotate
// and /Resources are inherited; boxes are normalized and the crop box is
// clipped to the media box.
//
// [Labels] expands the catalog's /PageLabels number tree.
package pages

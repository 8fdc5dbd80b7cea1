// Package structtree reads the logical structure tree of a document and
// extends it when new annotations carry accessibility data.
//
// [Root.PageTree] reports the elements that refer to one page as a tree of
// [Node] values whose leaves are marked content, annotations or other
// objects.
//
// On save, tagged annotations get a structure element each. When the
// document has no tree, [CanCreate] checks that one can be written and
// [Create] writes it; otherwise [Root.CanUpdate] and [Root.Update] append
// to the existing tree. Both checks assign each tagged editor its
// /StructParent key and must run before the annotations are written; the
// writers run after, since elements point at the annotation objects.
package structtree

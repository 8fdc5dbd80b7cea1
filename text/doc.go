// Package text extracts text content from PDF page content streams.
//
// # Text Content
//
// An [Extractor] interprets a content stream with its resources and sends
// the text it shows as [Chunk] values:
//
//	fonts := text.NewFontCache()
//	e := text.NewExtractor(xref, fonts, text.Options{ChunkSize: 100})
//	err := e.Extract(ctx, content, resources, func(c text.Chunk) error {
//		return sink.Enqueue(c)
//	})
//
// Each [Item] carries the string, its text rendering matrix, its width and
// height in user space, the loaded font name and whether a line ends after
// it. Styles for a font are sent with the first chunk that uses it. With
// IncludeMarkedContent, BMC/BDC/EMC boundaries appear as items whose Type
// is set. Text inside form XObjects is included.
//
// Strings are normalized with Unicode NFKC unless DisableNormalization is
// set, which splits ligatures such as "ﬁ" into their letters.
//
// # Fonts
//
// [LoadFont] reads only what text needs from a font dictionary: the
// encoding (WinAnsi, MacRoman and Standard base encodings plus
// /Differences), the /ToUnicode [CMap], advance widths and, for Type0
// fonts, codespace and writing mode. A [FontCache] shares fonts between the
// pages of a document and is dropped on cleanup.
//
// # Text Direction
//
// [DetectDirection] classifies a run as [LTR], [RTL] or [Neutral] by
// counting strong characters. Runs shown with a vertical font are [TTB].
package text

// Package document loads a PDF from a byte stream and answers queries on
// it: page count, fingerprints, catalog settings, pages, form fields and
// XFA data.
//
// A Manager is driven through its load stages by one goroutine:
//
//	m := document.NewManager(stream, document.Options{Password: pw})
//	_ = m.CheckHeader(ctx)
//	_ = m.ParseStartXRef(ctx)
//	if err := m.Parse(ctx, false); err != nil {
//		// retry Parse(ctx, true) on *core.XRefParseError
//	}
//
// After loading, queries may run concurrently. Pages, fonts, the
// structure tree and form fields are loaded once and shared.
package document

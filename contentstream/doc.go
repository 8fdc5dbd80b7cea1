// Package contentstream reads page content streams and turns them into
// operator lists.
//
// A [Parser] yields one [Operation] at a time, an operator with the
// operands that preceded it:
//
//	p := contentstream.NewParser(data)
//	for {
//		op, err := p.Next()
//		if err == io.EOF {
//			break
//		}
//		...
//	}
//
// Operands use the object syntax of package core. Comments are skipped,
// stray delimiters drop the pending operands, and an inline image
// (BI ... ID ... EI) arrives as one BI operation holding the image
// dictionary and its raw data.
//
// [Translate] checks an operation against the operator table and turns it
// into an [OpCode] with JSON-friendly arguments. [ListBuilder] batches
// those into [Chunk] values for streaming to a host.
package contentstream

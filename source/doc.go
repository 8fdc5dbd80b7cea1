// Package source turns whatever the host hands over into a random access
// byte source for the document layer.
//
// Bytes supplied up front are used as they are. Otherwise the resolver reads
// the transport's whole-file stream while it waits for the transport to
// report its headers. When the transport supports range requests the
// buffered chunks are flushed into a ChunkedStream, which serves further
// reads by fetching missing chunks on demand. When it does not, the chunks
// are kept in a PendingSource until the stream ends and are then merged into
// one buffer.
package source

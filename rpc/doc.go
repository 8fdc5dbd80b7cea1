// Package rpc is the message channel between a worker session and its
// host.
//
// Both ends run a Handler over a Port. A Handler supports three patterns:
// notifications (Send), request and single response (Request), and
// request with a streamed response (RequestStream). Inbound requests run
// on their own goroutines, so independent actions complete in any order;
// the chunks of one stream arrive in the order they were enqueued.
//
// Envelopes carry the names of both ends. A Handler ignores envelopes
// addressed to another name, which lets several sessions share one
// transport.
package rpc

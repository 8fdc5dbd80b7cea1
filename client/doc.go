// Package client is the host side of the worker channel. It opens
// documents in a worker, serves their bytes when the worker reads them
// from the host and exposes the document queries as typed calls.
package client

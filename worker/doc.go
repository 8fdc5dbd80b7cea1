// Package worker serves PDF documents to a host over an rpc channel.
//
// A Server answers the setup messages of the channel ("test", "configure"
// and "GetDocRequest"). Every GetDocRequest opens a Session with its own
// handler name, document source and task registry. After the host sends
// Ready the session resolves the source, loads the document and reports
// GetDoc or DocException; from then on it answers document queries until
// Terminate.
//
// Loading follows a fixed order of stages. A cross-reference failure on
// the first pass triggers a full download and exactly one retry in
// recovery mode. An encrypted document asks the host for a password until
// the host gives up.
package worker

// Package crypt implements the PDF standard security handler.
//
// [NewHandler] authenticates a password against a document's /Encrypt
// dictionary (revisions 2 through 6, RC4 and AES) and returns a [Handler]
// that decrypts objects as they are read by core.XRef and encrypts objects
// written by an incremental update. Authentication failures are reported as
// [*PasswordError] so callers can ask the user for a password and retry.
//
// [NewStandardEncryption] produces a new /Encrypt dictionary, which is used
// to build encrypted test documents.
package crypt

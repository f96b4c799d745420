// Package wire implements the boundary codec between the internal
// camelCase object model and the snake_case convention used on the
// messaging transport and the HTTP API.
//
// The transform is recursive and depth-unbounded over JSON objects and
// arrays; primitive values, numbers, and opaque string blobs pass
// through untouched. Known limitation: keys containing acronym-like
// runs of consecutive uppercase letters (e.g. "peerID", "sdpMLineIndex")
// are not guaranteed to round-trip; the payloads this system exchanges
// use single-word and plain compound identifiers only.
package wire

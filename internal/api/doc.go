// Package api is the HTTP boundary of the realtime coordinator: match
// lifecycle commands, chat room CRUD, and login. Responses are
// normalized through the wire codec so the rest of the process sees the
// internal camelCase model.
//
// Commands are never retried here; a failed start/accept/decline is
// surfaced to the caller, who decides whether to issue a fresh one.
package api

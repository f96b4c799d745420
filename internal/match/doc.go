// Package match implements the match negotiation state machine: pure
// state-transition logic converting local commands (start, accept,
// decline) and server-pushed events into the canonical match session
// state.
//
// Command results and pushed events may interleave in either order; a
// MATCH_FOUND event followed by the stale response of the start command
// that triggered it converges to the same MATCHED state as the reverse
// ordering.
package match

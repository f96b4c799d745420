// Package peer establishes a direct data channel to a matched partner.
// Signaling rides the shared session transport as opaque envelopes; the
// match state machine's offer flag decides which side originates. The
// link uses vanilla ICE: all candidates are gathered before a
// description is published, so establishment costs one signaling round
// trip, though trickled remote candidates are still accepted.
package peer

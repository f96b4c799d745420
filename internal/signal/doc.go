// Package signal relays opaque connection-setup payloads between
// peers. Envelopes carry a type tag and routing identities; the data
// field is passed through untouched so any offer, answer, or candidate
// format survives the relay. One inbound subscription per
// authenticated session covers the per-identity signal queue.
package signal

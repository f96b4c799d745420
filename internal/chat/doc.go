// Package chat tracks the active chat room: message history, the live
// room subscription, and optimistic sends.
//
// Room switching unsubscribes the previous topic strictly before the
// new subscription is attached, and history is replaced wholesale on
// every switch. Inbound messages for a room that is not active are
// dropped; there is no background buffering across rooms.
package chat

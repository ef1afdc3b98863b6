// Package broadcast is the staging and dispatch core.
//
// An operator composes a message in a private chat; the service stages it as a
// pending broadcast, renders a group-selection keyboard, and on confirmation
// fans the message out to the chosen groups with per-group isolation. Every
// delivered unit lands in the delivery ledger so the last broadcast can be
// retracted later.
//
// Multi-item albums arrive as a burst of independent updates sharing a media
// group id; the aggregator merges them behind a debounce window because
// Telegram sends no "album complete" signal.
package broadcast

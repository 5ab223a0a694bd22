// Package protocol defines the JSON message envelope exchanged over the
// WebSocket connection: event names in both directions, typed payloads,
// and validation limits for inbound audio.
package protocol

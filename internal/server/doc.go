// Package server implements the WebSocket boundary for recording clients and
// the HTTP API for monitoring and management. Each WebSocket client gets a
// serialized dispatch loop, which preserves audio chunk order, and a
// non-blocking send queue so a slow client never stalls the transcript
// pipeline.
package server

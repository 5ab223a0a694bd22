// Package session coordinates one recorded conversation end to end: audio
// chunks in from the client boundary, live transcript events out, and a
// SOAP analysis of the assembled transcript once recording stops.
//
// A Session is single use. Each start creates a fresh one; stopping it
// drains queued audio, finalizes the provider stream, waits a bounded grace
// period for flushed finals, and hands the transcript to the analyzer. The
// Manager enforces the concurrent session limit, reaps sessions whose
// clients have gone quiet, and feeds the monitoring API.
package session

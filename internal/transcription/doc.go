// Package transcription implements the WebSocket streaming client for the
// speech recognition provider. It sends linear16 PCM audio over a live
// connection, decodes interim and final transcription results with speaker
// diarization, and handles connection retries with exponential backoff.
package transcription

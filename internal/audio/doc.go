// Package audio implements the capture-side signal path: a conditioning
// chain (high-pass, compressor, gain, low-pass) that shapes microphone input
// for speech recognition, PCM format conversion, and an adaptive chunker
// that batches conditioned audio for network transport.
package audio

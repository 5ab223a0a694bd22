// Package vad provides level-based voice activity detection. It classifies
// conditioned audio frames against an adaptive noise floor and applies
// hysteresis so that isolated transients and brief pauses do not flip the
// active-speech state.
package vad

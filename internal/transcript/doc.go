// Package transcript assembles provider transcription events into an
// ordered conversation. Final segments are immutable and numbered from 1;
// at most one provisional interim segment trails the finals and is
// replaced in place until a final supersedes it.
package transcript

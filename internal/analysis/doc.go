// Package analysis turns an assembled conversation transcript into a
// structured SOAP note with source citations, using a language model
// provider over HTTP. It hardens the model output: citations that
// reference unknown transcript segments are dropped, confidences are
// clamped to [0, 100], and a basic analysis without citations serves as
// fallback when the enhanced response cannot be parsed. Successful results
// are cached by transcript content.
package analysis

// Package whisper wraps the whisper speech-to-text CLI as a subprocess with
// size-proportional timeouts, structured JSON output parsing, and in-band
// failure reporting.
package whisper

// Package engine assembles and runs the daemon: single-instance lock,
// store startup with retries, durable queue workers, the local
// transcription queue, and the HTTP API.
package engine

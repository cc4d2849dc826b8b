// Package transcribe provides the in-process transcription queue. Jobs are
// held in memory, ordered by priority then arrival, and run with bounded
// concurrency; failed attempts back off exponentially before retrying.
package transcribe

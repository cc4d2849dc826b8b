// Package llm wraps an OpenAI-compatible chat completion and embedding API
// with transient-failure retries. The client reports Configured() false when
// no API key is set so callers can fall back to deterministic local output.
package llm

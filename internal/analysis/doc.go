// Package analysis attaches derived overlays (why-it-matters summary, chili
// heat score, confidence, citations) and embeddings to deduplicated stories.
// Without model credentials, generation falls back to deterministic local
// output so the pipeline stays fully functional offline.
package analysis

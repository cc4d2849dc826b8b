// Package sources enumerates candidate items from configured origins: RSS
// and Atom feeds, YouTube channels, and YouTube searches. Video enumeration
// prefers the Data API and falls back to yt-dlp when the quota runs out.
package sources

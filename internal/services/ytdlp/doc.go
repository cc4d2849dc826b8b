// Package ytdlp shells out to the yt-dlp binary for video metadata, audio
// downloads, and channel or search enumeration when the Data API cannot be
// used.
package ytdlp

// Package services holds shared infrastructure for external integrations:
// sentinel error markers with wrapping helpers and the CommandRunner seam
// used by every subprocess-backed service.
package services

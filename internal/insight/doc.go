// Package insight derives readiness and efficiency signals from stored task
// and annotation history. Nothing here mutates pipeline state; callers act on
// the returned values.
package insight

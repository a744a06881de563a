// Package daemon combines the task store, workflow engine, and HTTP API
// into a single lifecycle with flock-based locking to prevent multiple
// daemon instances from sharing one database.
package daemon

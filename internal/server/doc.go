// Package server exposes the annotation services over HTTP. Authentication
// maps static bearer tokens from configuration to actor identities; the user
// directory itself lives outside this service. Service errors carry sentinel
// markers that map one-to-one onto HTTP statuses.
package server

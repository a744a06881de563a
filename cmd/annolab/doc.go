// Command annolab is the operator CLI for the annotation pipeline. It
// reads the same configuration as annolabd and works against the task
// database directly, so it does not require a running daemon.
package main

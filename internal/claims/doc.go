// Package claims implements the ownership transfer protocol for tasks that
// already have an owner. Requests snapshot the owner at filing time; approval
// re-validates that snapshot inside the transfer transaction so a stale
// decision never moves a task out from under its current owner.
package claims

// Package services holds the error taxonomy shared by the pipeline, claims,
// workflow, and insight services.
//
// Errors are classified with sentinel markers (ErrNotFound,
// ErrPermissionDenied, ErrConflict, ErrValidation, ErrStorage) and wrapped
// with component/operation context via Wrap. The HTTP layer maps markers to
// status codes; callers inspect them with errors.Is.
//
// Every terminal classification is final: no service retries internally, and
// contention always resolves to an immediate conflict rather than a transient
// failure.
package services

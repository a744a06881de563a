package services

import (
	"context"

	"annolab/internal/identity"
)

type contextKey string

const (
	actorContextKey     contextKey = "actor"
	taskIDContextKey    contextKey = "task_id"
	projectIDContextKey contextKey = "project_id"
	requestIDContextKey contextKey = "request_id"
)

// WithActor stores the authenticated actor on the context.
func WithActor(ctx context.Context, actor identity.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFromContext extracts the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (identity.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(identity.Actor)
	return actor, ok
}

// WithTaskID stores the task under operation on the context.
func WithTaskID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, taskIDContextKey, id)
}

// TaskIDFromContext extracts the task under operation, if any.
func TaskIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(taskIDContextKey).(int64)
	return id, ok
}

// WithProjectID stores the project under operation on the context.
func WithProjectID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, projectIDContextKey, id)
}

// ProjectIDFromContext extracts the project under operation, if any.
func ProjectIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(projectIDContextKey).(int64)
	return id, ok
}

// WithRequestID stores the HTTP correlation identifier on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

// RequestIDFromContext extracts the HTTP correlation identifier, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDContextKey).(string)
	return id, ok
}

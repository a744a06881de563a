package server

import (
	"net/http"
	"strings"

	"annolab/internal/config"
	"annolab/internal/identity"
	"annolab/internal/logging"
	"annolab/internal/services"
)

type tokenActor struct {
	actor identity.Actor
}

// buildTokenTable indexes configured bearer tokens. Tokens with an unknown
// role are skipped at validation time, so entries here are always usable.
func buildTokenTable(cfg *config.Config) map[string]tokenActor {
	table := make(map[string]tokenActor, len(cfg.Auth.Tokens))
	for _, entry := range cfg.Auth.Tokens {
		role, ok := identity.ParseRole(entry.Role)
		if !ok {
			continue
		}
		table[entry.Token] = tokenActor{actor: identity.Actor{
			ID:   entry.UserID,
			Role: role,
			Name: entry.Name,
		}}
	}
	return table
}

// authenticate resolves the bearer token to an actor and stores it on the
// request context. Requests without a valid token are rejected.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.writeError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		entry, ok := s.tokens[token]
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "unknown token")
			return
		}
		ctx := services.WithActor(r.Context(), entry.actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actor pulls the authenticated actor off the request. Handlers behind the
// authenticate middleware always find one.
func (s *Server) actor(r *http.Request) identity.Actor {
	actor, ok := services.ActorFromContext(r.Context())
	if !ok {
		s.logger.Error("request reached handler without actor",
			logging.String("path", r.URL.Path))
	}
	return actor
}

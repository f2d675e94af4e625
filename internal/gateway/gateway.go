// Package gateway is the session boundary: it authenticates every
// request against the identity provider's user id before any store
// or hub operation, and translates HTTP and WebSocket requests into
// messaging-service calls.
package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/convoim/convo/internal/config"
	"github.com/convoim/convo/internal/hub"
	"github.com/convoim/convo/internal/identity"
	"github.com/convoim/convo/internal/messaging"
)

type Gateway struct {
	log            *log.Logger
	idp            identity.Provider
	msg            *messaging.Service
	hub            *hub.Hub
	mux            *http.Server
	signingKey     []byte
	allowedOrigins []string
}

func NewGateway(mux *http.ServeMux, logger *log.Logger, idp identity.Provider, msgSvc *messaging.Service, h *hub.Hub, cfg *config.Config) *Gateway {
	g := &Gateway{
		log:            logger,
		idp:            idp,
		msg:            msgSvc,
		hub:            h,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", g.register)
	mux.HandleFunc("POST /api/auth/login", g.login)
	mux.Handle("GET /api/auth/session", g.authMiddleware(g.session))
	mux.Handle("GET /api/auth/logout", g.authMiddleware(g.logout))
	mux.Handle("PUT /api/account", g.authMiddleware(g.updateAccount))
	mux.Handle("POST /api/conversations", g.authMiddleware(g.startConversation))
	mux.Handle("GET /api/conversations", g.authMiddleware(g.listConversations))
	mux.Handle("GET /api/messages", g.authMiddleware(g.getMessages))
	mux.Handle("GET /ws", g.authMiddleware(g.serveWs))

	handler := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	handler = g.errorHandler(handler)

	g.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: handler,
	}

	return g
}

func (g *Gateway) Start() error {
	g.log.Printf("starting server on %s\n", g.mux.Addr)
	return g.mux.ListenAndServe()
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	g.log.Println("shutting down HTTP server...")
	if err := g.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

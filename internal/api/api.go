// Package api provides the REST surface for the card table server.
//
// @title Card Table API
// @version 1.0
// @description Real-time multiplayer trick-taking game server (Euchre,
// @description President, Spades) with WebSocket-based client reconciliation.
//
// @contact.name API Support
// @contact.url https://github.com/qingchang/cardtable
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/qingchang/cardtable/internal/identity"
	"github.com/qingchang/cardtable/internal/types"
)

// Server is the REST surface: health, metrics, swagger docs, and identity
// issuance. Game play itself never crosses this layer — once a client has
// an identity token it moves to the WebSocket endpoint mounted alongside
// this router by cmd/server.
type Server struct {
	Router *chi.Mux
	idmgr  *identity.Manager
	logger *zap.Logger
	ttl    time.Duration
}

func NewServer(idmgr *identity.Manager, ttl time.Duration, logger *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)

	s := &Server{Router: r, idmgr: idmgr, logger: logger, ttl: ttl}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/doc.json", s.swaggerDoc)
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	r.Post("/v1/identity", s.issueIdentity)

	return s
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// health godoc
// @Summary Health check endpoint
// @Description Returns server health status
// @Tags System
// @Produce plain
// @Success 200 {string} string "ok"
// @Router /health [get]
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

// IdentityResponse carries a freshly issued or reissued identity token.
type IdentityResponse struct {
	Identity  string `json:"identity" example:"6f1c9e2a-1c2b-4e3a-9b4f-2b5b6f1c9e2a"`
	Token     string `json:"token" example:"eyJhbGciOiJIUzI1NiIs..."`
	ExpiresIn int64  `json:"expiresIn" example:"86400"`
}

// IdentityRequest optionally carries a previously issued identity to
// reissue a fresh, non-expired token for, instead of minting a new one.
type IdentityRequest struct {
	Identity string `json:"identity,omitempty"`
}

// issueIdentity godoc
// @Summary Issue an identity token
// @Description Mints an opaque identity and signs a token for it, or reissues
// @Description a token for an identity the client already holds.
// @Tags Identity
// @Accept json
// @Produce json
// @Param request body IdentityRequest false "Existing identity to reissue a token for"
// @Success 200 {object} IdentityResponse
// @Router /v1/identity [post]
func (s *Server) issueIdentity(w http.ResponseWriter, r *http.Request) {
	var req IdentityRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	var (
		id    types.Identity
		token string
		err   error
	)
	if req.Identity == "" {
		id, token, err = s.idmgr.Issue()
	} else {
		id = types.Identity(req.Identity)
		token, err = s.idmgr.Sign(id)
	}
	if err != nil {
		http.Error(w, "failed to issue identity", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(IdentityResponse{
		Identity:  string(id),
		Token:     token,
		ExpiresIn: int64(s.ttl / time.Second),
	})
}

// swaggerDoc serves a hand-authored OpenAPI document describing this
// package's REST surface. The game protocol itself is a WebSocket wire
// format (spec.md §6), out of scope for an HTTP API document.
func (s *Server) swaggerDoc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(openAPIDoc))
}

const openAPIDoc = `{
  "swagger": "2.0",
  "info": {
    "title": "Card Table API",
    "description": "REST surface for the card table server: health, metrics, and identity issuance. Game play itself is a WebSocket protocol, not part of this document.",
    "version": "1.0"
  },
  "basePath": "/",
  "paths": {
    "/health": {
      "get": {
        "summary": "Health check endpoint",
        "produces": ["text/plain"],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/v1/identity": {
      "post": {
        "summary": "Issue or reissue an identity token",
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "parameters": [{
          "in": "body",
          "name": "body",
          "schema": {"$ref": "#/definitions/IdentityRequest"}
        }],
        "responses": {
          "200": {"description": "issued", "schema": {"$ref": "#/definitions/IdentityResponse"}}
        }
      }
    }
  },
  "definitions": {
    "IdentityRequest": {
      "type": "object",
      "properties": {
        "identity": {"type": "string"}
      }
    },
    "IdentityResponse": {
      "type": "object",
      "properties": {
        "identity": {"type": "string"},
        "token": {"type": "string"},
        "expiresIn": {"type": "integer"}
      }
    }
  }
}`

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/docease/telecare/backend/internal/chat"
	"github.com/docease/telecare/backend/internal/handlers"
	"github.com/docease/telecare/backend/internal/server/middleware"
	"github.com/docease/telecare/backend/internal/signaling"
)

// NewRouter creates and configures the HTTP router.
// allowedOrigins restricts browser origins for both CORS and the websocket
// upgrade; an empty list allows any.
func NewRouter(logger zerolog.Logger, hub *signaling.Hub, svc *chat.Service, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.RequireJSON)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "token", "dToken"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(svc, hub.Registry(), logger)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)
	r.Get("/ws", ServeWs(hub, allowedOrigins, logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", h.ListRooms)

		r.Post("/chat/send", h.SendMessage)
		r.Post("/chat/messages", h.GetMessages)

		r.Post("/{role}/send-message", h.RoleSendMessage)
		r.Post("/{role}/get-messages", h.RoleGetMessages)
	})

	return r
}

// ServeWs returns an http.HandlerFunc that upgrades the request and hands
// the connection to the hub as a new participant handle.
func ServeWs(hub *signaling.Hub, allowedOrigins []string, logger zerolog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin:     originChecker(allowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}

		client := signaling.NewClient(hub, conn)
		if !hub.Register(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

// originChecker accepts requests without an Origin header (native clients)
// and browser origins on the allow list.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

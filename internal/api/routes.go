// Package api provides HTTP handlers for the map view engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/xkazm04/course-sub000/internal/cache"
	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/internal/render"
	"github.com/xkazm04/course-sub000/internal/syncstore"
	"github.com/xkazm04/course-sub000/internal/upstream"
	"github.com/xkazm04/course-sub000/internal/viewport"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *SessionRegistry
	Cache       *cache.Manager
	Upstream    *upstream.Client
	Renderer    *render.FrameRenderer
	CORSOrigins []string
	RateLimit   RateLimitConfig
	Logger      *zap.Logger
}

// NewRouter creates the HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(NewRateLimiter(cfg.RateLimit).Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/api/stats", statsHandler(cfg.Registry, cfg.Cache))

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", sessionCreateHandler(cfg.Registry))
		r.Get("/", sessionListHandler(cfg.Registry))

		r.Route("/{session}", func(r chi.Router) {
			r.Use(sessionMiddleware(cfg.Registry))

			r.Delete("/", sessionCloseHandler(cfg.Registry))
			r.Post("/viewport", viewportHandler)
			r.Post("/resize", resizeHandler)
			r.Get("/frame", frameHandler)
			r.Get("/preview.png", previewHandler(cfg.Renderer))

			r.Post("/nodes", setNodesHandler)
			r.Get("/nodes/nearest", nearestNodesHandler)
			r.Get("/nodes/{id}", getNodeHandler)
			r.Post("/refresh", refreshHandler)
			r.Get("/categorize", categorizeHandler)

			r.Post("/path/accept", acceptPathHandler(cfg.Upstream))
			r.Get("/sync", syncStatusHandler)
			r.Post("/sync/nodes/{id}", syncNodeUpdateHandler)
			r.Delete("/sync", syncResetHandler)
		})
	})

	return r
}

type ctxKey string

const sessionKey ctxKey = "session"

// sessionMiddleware resolves the session from the URL and injects it into
// the request context.
func sessionMiddleware(registry *SessionRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "session")
			sess := registry.Get(id)
			if sess == nil {
				http.Error(w, "session not found: "+id, http.StatusNotFound)
				return
			}
			sess.Touch()
			ctx := context.WithValue(r.Context(), sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getSession(r *http.Request) *Session {
	if s, ok := r.Context().Value(sessionKey).(*Session); ok {
		return s
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func statsHandler(registry *SessionRegistry, cacheMgr *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := map[string]interface{}{
			"sessions": registry.Len(),
		}
		if cacheMgr != nil {
			stats["cache"] = cacheMgr.Stats()
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func sessionCreateHandler(registry *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Domain       string  `json:"domain"`
			CanvasWidth  float64 `json:"canvas_width"`
			CanvasHeight float64 `json:"canvas_height"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.Domain == "" {
			writeError(w, http.StatusBadRequest, "missing required field: domain")
			return
		}

		sess, err := registry.Create(req.Domain, req.CanvasWidth, req.CanvasHeight)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"session_id": sess.ID,
			"domain":     sess.Domain,
			"created_at": sess.CreatedAt,
		})
	}
}

func sessionListHandler(registry *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := registry.List()
		out := make([]map[string]interface{}, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, map[string]interface{}{
				"session_id": s.ID,
				"domain":     s.Domain,
				"created_at": s.CreatedAt,
				"nodes":      s.Service.NodeCount(),
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
	}
}

func sessionCloseHandler(registry *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := getSession(r)
		registry.Close(sess.ID)
		w.WriteHeader(http.StatusNoContent)
	}
}

func viewportHandler(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r)
	var req struct {
		Scale   float64 `json:"scale"`
		OffsetX float64 `json:"offset_x"`
		OffsetY float64 `json:"offset_y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Scale <= 0 {
		writeError(w, http.StatusBadRequest, "scale must be positive")
		return
	}

	sess.Service.SetViewport(r.Context(), viewport.State{
		Scale:   req.Scale,
		OffsetX: req.OffsetX,
		OffsetY: req.OffsetY,
	}, time.Now())
	writeJSON(w, http.StatusOK, sess.Service.Frame())
}

func resizeHandler(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r)
	var req struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		writeError(w, http.StatusBadRequest, "width and height must be positive")
		return
	}
	sess.Service.Resize(req.Width, req.Height)
	w.WriteHeader(http.StatusNoContent)
}

func frameHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getSession(r).Service.Frame())
}

func previewHandler(renderer *render.FrameRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if renderer == nil {
			writeError(w, http.StatusNotImplemented, "preview rendering disabled")
			return
		}
		data, err := renderer.RenderFrame(getSession(r).Service.Frame())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}
}

func setNodesHandler(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r)
	var req struct {
		Nodes []*mapnode.Node `json:"nodes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	for i, n := range req.Nodes {
		if n == nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("nodes[%d] is null", i))
			return
		}
		if err := n.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := sess.Service.SetNodes(req.Nodes); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"indexed": len(req.Nodes)})
}

func getNodeHandler(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r)
	id := chi.URLParam(r, "id")
	item, ok := sess.Service.GetNode(id)
	if !ok {
		writeError(w, http.StatusNotFound, "node not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"node":        item,
		"in_viewport": sess.Service.IsInViewport(id),
	})
}

func nearestNodesHandler(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r)
	q := r.URL.Query()
	x, errX := strconv.ParseFloat(q.Get("x"), 64)
	y, errY := strconv.ParseFloat(q.Get("y"), 64)
	if errX != nil || errY != nil {
		writeError(w, http.StatusBadRequest, "x and y query params are required numbers")
		return
	}
	k := 5
	if ks := q.Get("k"); ks != "" {
		parsed, err := strconv.Atoi(ks)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = parsed
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": sess.Service.NearestNodes(geom.Point{X: x, Y: y}, k),
	})
}

func refreshHandler(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r)
	if err := sess.Service.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.Service.Frame())
}

func categorizeHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getSession(r).Service.Categorize())
}

func acceptPathHandler(client *upstream.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if client == nil {
			writeError(w, http.StatusNotImplemented, "upstream not configured")
			return
		}
		sess := getSession(r)
		var req struct {
			Path   json.RawMessage `json:"path"`
			Domain string          `json:"domain"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if len(req.Path) == 0 {
			writeError(w, http.StatusBadRequest, "missing required field: path")
			return
		}
		domain := req.Domain
		if domain == "" {
			domain = sess.Domain
		}

		result, err := client.AcceptPath(r.Context(), req.Path, domain)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		sess.Sync.AcceptPath(result, domain, time.Now())
		if sess.Poller != nil && sess.Sync.HasGeneratingNodes() {
			sess.Poller.Start(context.Background())
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func syncStatusHandler(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r)
	resp := map[string]interface{}{
		"nodes":          sess.Sync.Nodes(),
		"generating_ids": sess.Sync.GeneratingNodeIDs(),
		"generating":     sess.Sync.HasGeneratingNodes(),
	}
	if path, ok := sess.Sync.Path(); ok {
		resp["path"] = path
	}
	if sess.Poller != nil {
		resp["polling"] = sess.Poller.Running()
	}
	writeJSON(w, http.StatusOK, resp)
}

func syncNodeUpdateHandler(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r)
	id := chi.URLParam(r, "id")
	var req struct {
		Status    upstream.GenerationStatus `json:"status"`
		Progress  float64                   `json:"progress"`
		Message   string                    `json:"message"`
		Error     string                    `json:"error"`
		Timestamp time.Time                 `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "missing required field: status")
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	applied := sess.Sync.UpdateNodeStatus(id, syncstore.NodeUpdate{
		Status:    req.Status,
		Progress:  req.Progress,
		Message:   req.Message,
		Error:     req.Error,
		Timestamp: req.Timestamp,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"applied": applied})
}

func syncResetHandler(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r)
	if sess.Poller != nil {
		sess.Poller.Stop()
	}
	sess.Sync.Reset()
	w.WriteHeader(http.StatusNoContent)
}

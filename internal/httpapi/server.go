package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"solpaper/internal/domain"
	"solpaper/internal/ledger"
	"solpaper/internal/notify"
)

// Server serves the status HTTP API.
type Server struct {
	ledger   *ledger.Ledger
	hub      *notify.Hub
	pageSize int
	started  time.Time
	log      *slog.Logger
}

// NewServer creates the status API server. hub may be nil, which disables
// the event stream endpoint.
func NewServer(l *ledger.Ledger, hub *notify.Hub, pageSize int, log *slog.Logger) *Server {
	return &Server{
		ledger:   l,
		hub:      hub,
		pageSize: pageSize,
		started:  time.Now(),
		log:      log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/portfolios", s.handlePortfolios)
	mux.HandleFunc("GET /api/portfolios/{id}", s.handlePortfolio)
	mux.HandleFunc("GET /api/events", s.handleEvents)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parsePage extracts the 1-based page number from the "page" query param.
func parsePage(r *http.Request) int {
	s := r.URL.Query().Get("page")
	if s == "" {
		return 1
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handlePortfolios(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)
	all := s.ledger.Snapshots()

	total := len(all)
	totalPages := (total + s.pageSize - 1) / s.pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * s.pageSize
	end := min(start+s.pageSize, total)

	summaries := make([]PortfolioSummaryJSON, 0, end-start)
	for _, p := range all[start:end] {
		summaries = append(summaries, summarize(p))
	}

	writeJSON(w, PortfoliosResponse{
		Portfolios: summaries,
		Page:       page,
		PageSize:   s.pageSize,
		TotalPages: totalPages,
		Total:      total,
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := s.ledger.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("portfolio %s not found", id))
		return
	}

	detail := PortfolioDetailJSON{PortfolioSummaryJSON: summarize(p)}

	keys := make([]string, 0, len(p.Positions))
	for k := range p.Positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		detail.Positions = append(detail.Positions, convertPosition(p.Positions[k]))
	}

	// History, most recent first.
	for i := len(p.History) - 1; i >= 0; i-- {
		detail.History = append(detail.History, convertClosed(p.History[i]))
	}

	writeJSON(w, detail)
}

// handleEvents streams trade lifecycle events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, events := s.hub.Subscribe(16)
	defer s.hub.Unsubscribe(id)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(eventJSON(ev))
			if err != nil {
				s.log.Error("encoding event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// eventJSON flattens a domain event for the SSE stream.
func eventJSON(ev domain.Event) map[string]any {
	out := map[string]any{
		"type":   ev.Type,
		"userId": ev.UserID,
	}
	if ev.Position != nil {
		out["position"] = convertPosition(ev.Position)
	}
	if ev.Closed != nil {
		out["closed"] = convertClosed(*ev.Closed)
	}
	return out
}

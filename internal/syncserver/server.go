// Package syncserver implements a reference remote authority for the push
// protocol. It keeps the latest accepted snapshot per record in memory,
// acknowledges changes it accepts, reports conflicts for stale upserts, and
// relays queued server-originated changes back to the client.
package syncserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	pimssync "github.com/Evasc0/BTS-PIMS/internal/sync"
)

// record is the authority's view of one entity.
type record struct {
	lastModified time.Time
	data         json.RawMessage
	deleted      bool
}

// Server is the remote authority. Safe for concurrent use.
type Server struct {
	mu      sync.Mutex
	records map[string]map[string]record // entityType -> entityID -> record
	pending []pimssync.ServerChange
	apiKey  string
}

// Option configures a Server.
type Option func(*Server)

// WithAPIKey requires a Bearer token on the push endpoint.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// New creates an empty authority.
func New(opts ...Option) *Server {
	s := &Server{records: make(map[string]map[string]record)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP surface: POST /sync/push plus a health probe.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		if s.apiKey != "" {
			r.Use(AuthMiddleware(s.apiKey))
		}
		r.Post("/sync/push", s.handlePush)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pimssync.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}

	resp := pimssync.PushResponse{
		AckedIDs:      []int64{},
		Conflicts:     []pimssync.Conflict{},
		ServerChanges: []pimssync.ServerChange{},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, change := range req.Changes {
		switch change.Operation {
		case pimssync.OperationDelete:
			s.applyDelete(change)
			resp.AckedIDs = append(resp.AckedIDs, change.ID)
		case pimssync.OperationUpsert:
			if s.isStale(change) {
				resp.Conflicts = append(resp.Conflicts, pimssync.Conflict{
					EntityType: change.EntityType,
					EntityID:   change.EntityID,
				})
				continue
			}
			s.applyUpsert(change)
			resp.AckedIDs = append(resp.AckedIDs, change.ID)
		default:
			WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("unknown operation %q", change.Operation))
			return
		}
	}

	// Drain queued server-originated changes into this response.
	resp.ServerChanges = append(resp.ServerChanges, s.pending...)
	s.pending = nil

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// isStale reports whether the authority holds a newer version of the record
// than the incoming change.
func (s *Server) isStale(change pimssync.Change) bool {
	existing, ok := s.records[change.EntityType][change.EntityID]
	if !ok {
		return false
	}
	incoming := payloadLastModified(change.Data)
	return !incoming.IsZero() && existing.lastModified.After(incoming)
}

func (s *Server) applyUpsert(change pimssync.Change) {
	if s.records[change.EntityType] == nil {
		s.records[change.EntityType] = make(map[string]record)
	}
	lm := payloadLastModified(change.Data)
	if lm.IsZero() {
		lm = time.Now().UTC()
	}
	s.records[change.EntityType][change.EntityID] = record{lastModified: lm, data: change.Data}
}

func (s *Server) applyDelete(change pimssync.Change) {
	if s.records[change.EntityType] == nil {
		s.records[change.EntityType] = make(map[string]record)
	}
	existing := s.records[change.EntityType][change.EntityID]
	existing.deleted = true
	existing.lastModified = time.Now().UTC()
	s.records[change.EntityType][change.EntityID] = existing
}

// Publish queues a server-originated change for delivery on the next push
// response. Tests and operators use it to simulate edits made elsewhere.
func (s *Server) Publish(entityType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal server change: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, pimssync.ServerChange{EntityType: entityType, Data: raw})
	return nil
}

// Record returns the authority's current snapshot for an entity, if any.
func (s *Server) Record(entityType, entityID string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[entityType][entityID]
	if !ok || rec.deleted {
		return nil, false
	}
	return rec.data, true
}

// payloadLastModified extracts the lastModified stamp from a record payload.
func payloadLastModified(raw json.RawMessage) time.Time {
	var probe struct {
		LastModified time.Time `json:"lastModified"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return time.Time{}
	}
	return probe.LastModified
}

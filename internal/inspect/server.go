// Package inspect serves the engine's external state surfaces: a JSON state
// report, a live WebSocket feed of applied transfers, and Prometheus metrics.
package inspect

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oranchan/Meme/internal/domain"
	"github.com/oranchan/Meme/internal/engine"
	"github.com/oranchan/Meme/internal/fees"
	"github.com/oranchan/Meme/internal/ledger"
	"github.com/oranchan/Meme/internal/limiter"
)

// Server exposes the read-only inspection API.
type Server struct {
	addr  string
	orch  *engine.Orchestrator
	book  *ledger.Book
	lim   *limiter.RateWindowLimiter
	alloc *fees.Allocator

	upgrader websocket.Upgrader

	// writeMu serializes broadcast writes across all subscriber conns.
	writeMu sync.Mutex
	subs    map[*websocket.Conn]struct{}

	srv *http.Server
}

// NewServer creates the inspection server. Wire Publish as the engine's
// onApplied callback to feed the stream.
func NewServer(addr string, orch *engine.Orchestrator, book *ledger.Book,
	lim *limiter.RateWindowLimiter, alloc *fees.Allocator) *Server {
	return &Server{
		addr:  addr,
		orch:  orch,
		book:  book,
		lim:   lim,
		alloc: alloc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subs: make(map[*websocket.Conn]struct{}),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	s.srv = &http.Server{Addr: s.addr, Handler: s.Handler()}

	go func() {
		slog.Info("Inspection server started", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Inspection server failed", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		s.closeSubs()
	}()
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	report := BuildReport(
		s.book.TotalSupply(),
		s.orch.AppliedCount(),
		s.orch.LastFee(),
		s.lim.Limits(),
		s.alloc.Totals(),
		s.book.Snapshot(),
		s.lim.Snapshot(),
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		slog.Warn("Failed to encode state report", slog.Any("error", err))
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WS upgrade failed", slog.Any("error", err))
		return
	}

	s.writeMu.Lock()
	s.subs[conn] = struct{}{}
	s.writeMu.Unlock()

	slog.Info("Inspection subscriber connected", slog.String("remote", conn.RemoteAddr().String()))

	// Drain reads so control frames are processed; drop on error.
	go func() {
		defer s.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish pushes an applied transfer to every subscriber.
func (s *Server) Publish(rcpt domain.Receipt) {
	payload, err := json.Marshal(rcpt)
	if err != nil {
		slog.Error("Failed to marshal receipt", slog.Any("error", err))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for conn := range s.subs {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Warn("Dropping slow subscriber", slog.Any("error", err))
			conn.Close()
			delete(s.subs, conn)
		}
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.Close()
	delete(s.subs, conn)
}

func (s *Server) closeSubs() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for conn := range s.subs {
		conn.Close()
		delete(s.subs, conn)
	}
}

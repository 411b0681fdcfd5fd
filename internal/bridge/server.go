// Package bridge serves sensor readings to HUD clients over WebSocket, one
// JSON frame per reading or status change.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"pulse.klederson.com/internal/config"
	"pulse.klederson.com/internal/metrics"
	"pulse.klederson.com/internal/sensor"
	"pulse.klederson.com/internal/state"
	"pulse.klederson.com/internal/upstream"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server fans sensor output out to every connected client. It implements
// sensor.Sink.
type Server struct {
	addr    string
	timeout time.Duration
	logger  *zap.Logger
	metrics metrics.Collector
	mux     *http.ServeMux

	clients *xsync.Map[uint64, *client]
	nextID  atomic.Uint64

	mu         sync.Mutex
	lastStatus []byte
}

var _ sensor.Sink = (*Server)(nil)

type client struct {
	id   uint64
	mu   sync.Mutex
	conn *websocket.Conn
	once sync.Once
}

func (c *client) write(data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) close() {
	c.once.Do(func() { c.conn.Close() })
}

func New(addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:    addr,
		timeout: config.BroadcastTimeout,
		logger:  logger.Named("bridge"),
		metrics: metrics.NewNop(),
		mux:     http.NewServeMux(),
		clients: xsync.NewMap[uint64, *client](),
	}
	s.mux.HandleFunc("/", s.serveWS)
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return s
}

// SetMetrics counts broadcast readings and tracks the sensor phase in c.
func (s *Server) SetMetrics(c metrics.Collector) {
	s.metrics = c
}

// SetBroadcastTimeout bounds each client write. Non-positive values are
// ignored.
func (s *Server) SetBroadcastTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Handle mounts an extra handler, e.g. metrics.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) Handler() http.Handler { return s.mux }

// Clients returns the number of connected clients.
func (s *Server) Clients() int { return s.clients.Size() }

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("websocket server running", zap.String("url", "ws://"+s.addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.clients.Range(func(id uint64, c *client) bool {
		s.clients.Delete(id)
		c.close()
		return true
	})
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, req *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{id: s.nextID.Add(1), conn: conn}
	s.clients.Store(c.id, c)
	s.logger.Info("client connected", zap.String("remote", req.RemoteAddr), zap.Int("total", s.clients.Size()))

	s.mu.Lock()
	last := s.lastStatus
	s.mu.Unlock()
	if last != nil {
		if err := c.write(last, s.timeout); err != nil {
			s.drop(c, err)
			return
		}
	}

	// Clients never send anything meaningful; read only to notice the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if _, ok := s.clients.LoadAndDelete(c.id); ok {
		s.logger.Info("client disconnected", zap.String("remote", req.RemoteAddr), zap.Int("total", s.clients.Size()))
	}
	c.close()
}

func (s *Server) drop(c *client, err error) {
	if _, ok := s.clients.LoadAndDelete(c.id); ok {
		s.logger.Debug("removed failed client", zap.Uint64("client", c.id), zap.Error(err))
	}
	c.close()
}

// Broadcast sends data to every client in parallel. A client that cannot take
// the frame within the broadcast timeout is dropped.
func (s *Server) Broadcast(data []byte) {
	var wg sync.WaitGroup
	s.clients.Range(func(_ uint64, c *client) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.write(data, s.timeout); err != nil {
				s.drop(c, err)
			}
		}()
		return true
	})
	wg.Wait()
}

func (s *Server) Reading(r sensor.Reading) {
	data, err := upstream.EncodeData(float64(r.BPM), r.RR, r.Timestamp)
	if err != nil {
		s.logger.Error("encode reading", zap.Error(err))
		return
	}
	s.metrics.SampleReceived()
	s.Broadcast(data)
}

func (s *Server) Status(phase state.Phase, device string) {
	data, err := upstream.EncodeStatus(phase, device)
	if err != nil {
		s.logger.Error("encode status", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.lastStatus = data
	s.mu.Unlock()
	s.metrics.SetPhase(phase.String())
	s.logger.Info("status", zap.String("phase", phase.String()), zap.String("device", device))
	s.Broadcast(data)
}

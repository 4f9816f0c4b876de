package fanout

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Server accepts websocket listeners and broadcasts status event payloads
// to all of them. Payloads are forwarded verbatim, the server never parses
// or filters them.
type Server struct {
	registry     *Registry
	logger       *zap.Logger
	writeTimeout time.Duration
}

func NewServer(logger *zap.Logger, writeTimeout time.Duration) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Server{
		registry:     NewRegistry(),
		logger:       logger,
		writeTimeout: writeTimeout,
	}
}

func (s *Server) Registry() *Registry { return s.registry }

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away. Inbound messages are logged and otherwise ignored.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	id := s.registry.Add(conn)
	s.logger.Info("client connected", zap.String("conn_id", id), zap.Int("listeners", s.registry.Len()))

	defer func() {
		s.registry.Remove(id)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Info("client disconnected", zap.String("conn_id", id), zap.Int("listeners", s.registry.Len()))
	}()

	for {
		_, msg, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		s.logger.Debug("received from client", zap.String("conn_id", id), zap.ByteString("message", msg))
	}
}

// Broadcast sends the payload to every registered listener. Writes run
// concurrently, and a listener whose write fails is dropped without
// affecting the rest.
func (s *Server) Broadcast(ctx context.Context, payload []byte) {
	conns := s.registry.Snapshot()
	if len(conns) == 0 {
		return
	}

	var wg sync.WaitGroup
	for id, conn := range conns {
		wg.Add(1)
		go func(id string, conn *websocket.Conn) {
			defer wg.Done()
			wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			defer cancel()
			if err := conn.Write(wctx, websocket.MessageText, payload); err != nil {
				s.logger.Warn("write failed, dropping listener", zap.String("conn_id", id), zap.Error(err))
				s.registry.Remove(id)
				_ = conn.Close(websocket.StatusAbnormalClosure, "write failed")
			}
		}(id, conn)
	}
	wg.Wait()
}

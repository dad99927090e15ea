package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/bastiangx/hound/internal/utils"
	"github.com/bastiangx/hound/pkg/config"
	"github.com/bastiangx/hound/pkg/console"
	"github.com/bastiangx/hound/pkg/suggest"
	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"
)

// Server handles msgpack IPC for suggestion queries
type Server struct {
	console *console.Console
	config  config.ServerConfig
	dec     *msgpack.Decoder
	enc     *msgpack.Encoder
	writeMu sync.Mutex
	pending sync.WaitGroup
}

// NewServer creates an IPC server on stdin/stdout.
func NewServer(c *console.Console, cfg config.ServerConfig) *Server {
	return NewServerWithIO(c, cfg, os.Stdin, os.Stdout)
}

// NewServerWithIO creates an IPC server on arbitrary streams.
func NewServerWithIO(c *console.Console, cfg config.ServerConfig, r io.Reader, w io.Writer) *Server {
	return &Server{
		console: c,
		config:  cfg,
		dec:     msgpack.NewDecoder(r),
		enc:     msgpack.NewEncoder(w),
	}
}

// Start reads requests until EOF or ctx is done. Background refreshes are
// awaited before it returns.
func (s *Server) Start(ctx context.Context) error {
	log.Debug("Starting IPC server.")
	defer s.pending.Wait()

	s.send(map[string]string{"status": "ready"})

	for {
		if ctx.Err() != nil {
			return nil
		}
		var req Request
		if err := s.dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug("IPC client closed the stream")
				return nil
			}
			log.Errorf("Decoding request: %v", err)
			s.sendError("", "invalid msgpack request", 400)
			return err
		}
		s.handleRequest(ctx, req)
	}
}

func (s *Server) handleRequest(ctx context.Context, req Request) {
	switch req.Action {
	case ActionQuery:
		s.handleQuery(req)
	case ActionRefresh:
		s.background(func() { s.handleRefresh(ctx, req) })
	case ActionSetParam:
		s.background(func() { s.handleSetParam(ctx, req) })
	case ActionInvalidate:
		s.handleInvalidate(req)
	case ActionStatus:
		s.send(StatusResponse{ID: req.ID, Status: "ok", Datasets: s.console.Status(), Params: s.console.Params()})
	default:
		s.sendError(req.ID, fmt.Sprintf("unknown action: %q", req.Action), 400)
	}
}

func (s *Server) background(fn func()) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		fn()
	}()
}

func (s *Server) handleQuery(req Request) {
	limit := clampLimit(req.Limit, s.config.MaxLimit)
	text := utils.TruncateRunes(req.Query, s.config.MaxQuery)

	idx, err := s.console.Index(req.Dataset)
	if err != nil {
		s.sendError(req.ID, err.Error(), 404)
		return
	}
	start := time.Now()
	items, err := s.console.Query(req.Dataset, text, limit)
	if err != nil {
		s.sendError(req.ID, err.Error(), 404)
		return
	}
	elapsed := time.Since(start)
	log.Debugf("Query %q on %s: %d results in %v", text, req.Dataset, len(items), elapsed)

	s.send(QueryResponse{
		ID:          req.ID,
		Dataset:     req.Dataset,
		Suggestions: items,
		Count:       len(items),
		Generation:  idx.Generation(),
		TimeTaken:   elapsed.Microseconds(),
	})
}

func (s *Server) handleRefresh(ctx context.Context, req Request) {
	err := s.console.Refresh(ctx, req.Dataset, req.Force)
	resp := refreshResult(req.ID, err)
	resp.Datasets = []string{req.Dataset}
	if idx, lerr := s.console.Index(req.Dataset); lerr == nil {
		resp.Generation = idx.Generation()
	}
	s.send(resp)
}

func (s *Server) handleSetParam(ctx context.Context, req Request) {
	names, err := s.console.SetParam(ctx, req.Param, req.Value)
	resp := refreshResult(req.ID, err)
	resp.Datasets = names
	s.send(resp)
}

func (s *Server) handleInvalidate(req Request) {
	if err := s.console.Invalidate(req.Dataset); err != nil {
		s.sendError(req.ID, err.Error(), 404)
		return
	}
	s.send(RefreshResponse{ID: req.ID, Status: "ok", Datasets: []string{req.Dataset}})
}

func refreshResult(id string, err error) RefreshResponse {
	if err == nil {
		return RefreshResponse{ID: id, Status: "ok"}
	}
	resp := RefreshResponse{ID: id, Status: "error", Error: err.Error()}
	if kind := suggest.KindOf(err); kind != 0 {
		resp.Kind = kind.String()
	}
	return resp
}

// clampLimit applies the server maximum; zero keeps the dataset default.
func clampLimit(limit, maxLimit int) int {
	if limit < 0 {
		limit = 0
	}
	if maxLimit > 0 && limit > maxLimit {
		return maxLimit
	}
	return limit
}

// send encodes a response; writes from background refreshes are serialized.
func (s *Server) send(response any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.enc.Encode(response); err != nil {
		log.Errorf("Encoding response: %v", err)
	}
}

func (s *Server) sendError(id, message string, code int) {
	s.send(ErrorResponse{ID: id, Error: message, Code: code})
}

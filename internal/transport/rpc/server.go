// Package rpc exposes the processor over JSON-RPC for internal clients.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/PManghan91/boardroom/internal/domain"
	"github.com/PManghan91/boardroom/internal/service"
)

// Server accepts JSON-RPC connections.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	logger    *slog.Logger
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the processor service.
func NewServer(svc *service.Service, logger *slog.Logger) (*Server, error) {
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Boardroom", &Handler{service: svc}); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}
	return &Server{
		rpcServer: rpcServer,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := s.Listen(addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Listen binds the server's listener.
func (s *Server) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.listener = ln
	return ln, nil
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn("rpc accept error", "error", err)
			continue
		}
		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	if err := s.listener.Close(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the Boardroom RPC methods.
type Handler struct {
	service *service.Service
}

// RoomArgs identifies a room.
type RoomArgs struct {
	RoomID string `json:"room_id"`
}

// ReplayArgs identifies a dead letter.
type ReplayArgs struct {
	ID int64 `json:"id"`
}

// Append appends an event to a room's log.
func (h *Handler) Append(req *domain.AppendRequest, resp *domain.AppendResponse) error {
	if req == nil {
		return errors.New("append request is required")
	}
	res, err := h.service.Append(context.Background(), *req)
	if err != nil {
		return err
	}
	*resp = *res
	return nil
}

// GetSnapshot returns the room's last committed snapshot.
func (h *Handler) GetSnapshot(req *RoomArgs, resp *domain.SnapshotResponse) error {
	if req == nil || req.RoomID == "" {
		return errors.New("room_id is required")
	}
	snap, err := h.service.GetSnapshot(context.Background(), req.RoomID)
	if err != nil {
		return err
	}
	*resp = *snap
	return nil
}

// ReplayDeadLetter re-appends a dead letter to its room.
func (h *Handler) ReplayDeadLetter(req *ReplayArgs, resp *service.ReplayResult) error {
	if req == nil || req.ID <= 0 {
		return errors.New("id is required")
	}
	res, err := h.service.ReplayDeadLetter(context.Background(), req.ID)
	if err != nil {
		return err
	}
	*resp = *res
	return nil
}

// Health reports processing status.
func (h *Handler) Health(_ *struct{}, resp *domain.Health) error {
	health, err := h.service.Health(context.Background())
	if err != nil {
		return err
	}
	*resp = *health
	return nil
}

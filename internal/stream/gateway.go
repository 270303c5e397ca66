// Package stream is the ingestion side of the per-room event log.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/PManghan91/boardroom/internal/domain"
	"github.com/PManghan91/boardroom/internal/metrics"
	store "github.com/PManghan91/boardroom/internal/repository"
)

const (
	maxRoomIDLen      = 128
	maxClientMsgIDLen = 256
)

// Log is the storage the gateway appends to.
type Log interface {
	AppendEvent(ctx context.Context, event *domain.Event, opts store.AppendOptions) (*store.AppendResult, error)
}

// Config bounds appends.
type Config struct {
	DedupWindow       time.Duration
	MaxPendingPerRoom int64
}

// Gateway appends events to room logs. Appends to one room are serialized in
// process before they reach the store.
type Gateway struct {
	log     Log
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	locks sync.Map // room_id -> *sync.Mutex
	wake  chan struct{}
}

// NewGateway creates a stream gateway.
func NewGateway(log Log, cfg Config, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		log:     log,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		metrics: m,
		wake:    make(chan struct{}, 1),
	}
}

// Wake is signalled after every new append so idle workers can poll early.
func (g *Gateway) Wake() <-chan struct{} {
	return g.wake
}

// Append validates and durably appends one event, returning its offset. A
// client_msg_id seen within the dedup window returns the original offset.
func (g *Gateway) Append(ctx context.Context, req domain.AppendRequest) (*domain.AppendResponse, error) {
	ev, err := g.validate(req)
	if err != nil {
		g.metrics.IncAppend("invalid")
		return nil, err
	}

	mu := g.roomLock(ev.RoomID)
	mu.Lock()
	defer mu.Unlock()

	now := g.clock.Now().UTC()
	ev.EnqueuedAt = now
	res, err := g.log.AppendEvent(ctx, ev, store.AppendOptions{
		DedupSince: now.Add(-g.cfg.DedupWindow),
		MaxPending: g.cfg.MaxPendingPerRoom,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAppendRejected):
			g.metrics.IncAppend("rejected")
		case errors.Is(err, domain.ErrResourceExhausted):
			g.metrics.IncAppend("backpressure")
			g.logger.Warn("room backlog over limit", "room_id", ev.RoomID, "limit", g.cfg.MaxPendingPerRoom)
		default:
			g.metrics.IncAppend("error")
			return nil, fmt.Errorf("append to %s: %w", ev.RoomID, err)
		}
		return nil, err
	}

	if res.Duplicate {
		g.metrics.IncAppend("duplicate")
		g.logger.Debug("duplicate append", "room_id", ev.RoomID, "client_msg_id", ev.ClientMsgID, "offset", res.Offset)
	} else {
		g.metrics.IncAppend("ok")
		g.notify()
	}
	return &domain.AppendResponse{RoomID: ev.RoomID, Offset: res.Offset, Duplicate: res.Duplicate}, nil
}

func (g *Gateway) validate(req domain.AppendRequest) (*domain.Event, error) {
	roomID := strings.TrimSpace(req.RoomID)
	if roomID == "" {
		return nil, fmt.Errorf("%w: room_id is required", domain.ErrInvalidArgument)
	}
	if len(roomID) > maxRoomIDLen {
		return nil, fmt.Errorf("%w: room_id longer than %d bytes", domain.ErrInvalidArgument, maxRoomIDLen)
	}
	if len(req.ClientMsgID) > maxClientMsgIDLen {
		return nil, fmt.Errorf("%w: client_msg_id longer than %d bytes", domain.ErrInvalidArgument, maxClientMsgIDLen)
	}
	payload := bytes.TrimSpace(req.Payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: payload is required", domain.ErrInvalidArgument)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: payload must be a JSON object", domain.ErrInvalidArgument)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", domain.ErrInvalidArgument, err)
	}
	return &domain.Event{
		RoomID:      roomID,
		Author:      strings.TrimSpace(req.Author),
		Payload:     compact.Bytes(),
		ClientMsgID: req.ClientMsgID,
	}, nil
}

func (g *Gateway) roomLock(roomID string) *sync.Mutex {
	v, _ := g.locks.LoadOrStore(roomID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (g *Gateway) notify() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

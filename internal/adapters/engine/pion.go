// Package engine provides the default core.MediaEngine backed by
// pion/webrtc. Each worker carries its own webrtc.API (media + setting
// engine); each router is an API-scoped peer connection anchor whose
// capability payload clients use to attach.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/Fleet/internal/core"
	"github.com/dkeye/Fleet/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	MinPort    uint16
	MaxPort    uint16
	ICEServers []string
}

func DefaultConfig() Config {
	return Config{
		MinPort:    10000,
		MaxPort:    59999,
		ICEServers: []string{"stun:stun.l.google.com:19302"},
	}
}

type PionEngine struct {
	cfg Config

	mu      sync.Mutex
	workers map[domain.WorkerID]*pionWorker
}

type pionWorker struct {
	api *webrtc.API

	mu      sync.Mutex
	routers []*pionRouter
	closed  bool
}

type pionRouter struct {
	id         string
	room       domain.RoomID
	pc         *webrtc.PeerConnection
	iceServers []string

	mu     sync.Mutex
	closed bool
}

func NewPionEngine(cfg Config) *PionEngine {
	return &PionEngine{cfg: cfg, workers: make(map[domain.WorkerID]*pionWorker)}
}

func (e *PionEngine) CreateWorker(_ context.Context, id domain.WorkerID) error {
	se := webrtc.SettingEngine{}
	if err := se.SetEphemeralUDPPortRange(e.cfg.MinPort, e.cfg.MaxPort); err != nil {
		return fmt.Errorf("udp port range: %w", err)
	}
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("register codecs: %w", err)
	}
	w := &pionWorker{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.workers[id]; ok {
		return fmt.Errorf("worker %s already exists", id)
	}
	e.workers[id] = w
	return nil
}

func (e *PionEngine) CreateRouter(_ context.Context, worker domain.WorkerID, room domain.RoomID) (core.Router, error) {
	e.mu.Lock()
	w, ok := e.workers[worker]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown worker %s", worker)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("worker %s is closed", worker)
	}
	pc, err := w.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: e.cfg.ICEServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	rt := &pionRouter{
		id:         uuid.NewString(),
		room:       room,
		pc:         pc,
		iceServers: e.cfg.ICEServers,
	}
	w.routers = append(w.routers, rt)
	log.Info().Str("module", "engine.pion").
		Str("worker", string(worker)).Str("room", string(room)).Str("router", rt.id).
		Msg("router created")
	return rt, nil
}

// CloseWorker closes every router anchored on the worker and retires
// it. Idempotent; router close failures surface as one joined error.
func (e *PionEngine) CloseWorker(_ context.Context, id domain.WorkerID) error {
	e.mu.Lock()
	w, ok := e.workers[id]
	if ok {
		delete(e.workers, id)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	var errs []error
	for _, rt := range w.routers {
		if err := rt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("router %s: %w", rt.id, err))
		}
	}
	w.routers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close worker %s: %v", id, errs)
	}
	return nil
}

// ConnectInfo is the transport/capability payload handed to clients.
// Its layout is part of the client SDK contract.
func (rt *pionRouter) ConnectInfo() (json.RawMessage, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return nil, fmt.Errorf("router %s is closed", rt.id)
	}
	return json.Marshal(struct {
		RouterID   string   `json:"routerId"`
		ICEServers []string `json:"iceServers"`
		Codecs     []string `json:"codecs"`
	}{
		RouterID:   rt.id,
		ICEServers: rt.iceServers,
		Codecs:     []string{webrtc.MimeTypeOpus, webrtc.MimeTypeVP8, webrtc.MimeTypeH264},
	})
}

func (rt *pionRouter) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return nil
	}
	rt.closed = true
	return rt.pc.Close()
}

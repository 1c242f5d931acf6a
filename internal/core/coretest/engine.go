// Package coretest provides a deterministic in-memory MediaEngine for
// tests: worker and router failures are injected per call site instead
// of arranging a real native engine.
package coretest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/Fleet/internal/core"
	"github.com/dkeye/Fleet/internal/domain"
)

type FakeRouter struct {
	Room domain.RoomID

	mu         sync.Mutex
	connectErr error
	closeErr   error
	closed     bool
}

func (r *FakeRouter) FailConnect(err error) {
	r.mu.Lock()
	r.connectErr = err
	r.mu.Unlock()
}

func (r *FakeRouter) ConnectInfo() (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	return json.Marshal(map[string]string{"routerId": "fake-" + string(r.Room)})
}

func (r *FakeRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.closeErr
}

func (r *FakeRouter) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type FakeEngine struct {
	mu sync.Mutex

	workers map[domain.WorkerID]bool
	routers []*FakeRouter

	CreateWorkerErr error
	CreateRouterErr error
	// NextConnectErr is applied to the next router created.
	NextConnectErr error
	// CloseWorkerErr injects a failure for specific workers.
	CloseWorkerErr map[domain.WorkerID]error

	CloseCalls []domain.WorkerID
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{workers: make(map[domain.WorkerID]bool)}
}

func (e *FakeEngine) CreateWorker(_ context.Context, id domain.WorkerID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CreateWorkerErr != nil {
		return e.CreateWorkerErr
	}
	if e.workers[id] {
		return fmt.Errorf("worker %s already exists", id)
	}
	e.workers[id] = true
	return nil
}

func (e *FakeEngine) CreateRouter(_ context.Context, worker domain.WorkerID, room domain.RoomID) (core.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CreateRouterErr != nil {
		return nil, e.CreateRouterErr
	}
	if !e.workers[worker] {
		return nil, fmt.Errorf("unknown worker %s", worker)
	}
	r := &FakeRouter{Room: room, connectErr: e.NextConnectErr}
	e.NextConnectErr = nil
	e.routers = append(e.routers, r)
	return r, nil
}

func (e *FakeEngine) CloseWorker(_ context.Context, id domain.WorkerID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCalls = append(e.CloseCalls, id)
	delete(e.workers, id)
	if err, ok := e.CloseWorkerErr[id]; ok {
		return err
	}
	return nil
}

func (e *FakeEngine) Routers() []*FakeRouter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*FakeRouter(nil), e.routers...)
}

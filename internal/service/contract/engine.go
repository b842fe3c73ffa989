// Package contract is the contract lifecycle engine: it turns a proposal
// into a contract with payable milestones and enforces the contract and
// milestone state machines.
package contract

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"contractsvc/internal/repository"
	"contractsvc/internal/workspace"
	"contractsvc/pkg/logger"
	"contractsvc/pkg/metrics"
	"contractsvc/pkg/rbac"
	"contractsvc/pkg/trace"
)

// Actor is the authenticated caller. Role is the token claim; the engine
// never trusts it for contract decisions and re-derives the caller's side
// from Contract.ClientID / FreelancerID.
type Actor struct {
	ID   int64
	Role rbac.Role
}

// RoomProvisioner creates the collaboration room of a new contract.
type RoomProvisioner interface {
	CreateRoom(ctx context.Context, cred workspace.ServiceCredential, req workspace.RoomRequest) (*workspace.Room, error)
}

type Engine struct {
	uow         repository.UnitOfWork
	rooms       RoomProvisioner
	cred        workspace.ServiceCredential
	roomTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time

	// 跟踪异步的 workspace 调用，关闭时等待
	inflight sync.WaitGroup
}

type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRoomTimeout bounds one workspace provisioning attempt, retries included.
func WithRoomTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.roomTimeout = d
		}
	}
}

// NewEngine wires the engine. rooms may be nil, in which case no workspace
// room is requested.
func NewEngine(uow repository.UnitOfWork, rooms RoomProvisioner, cred workspace.ServiceCredential, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		uow:         uow,
		rooms:       rooms,
		cred:        cred,
		roomTimeout: 10 * time.Second,
		logger:      log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wait blocks until all background workspace calls have finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

func (e *Engine) log(ctx context.Context) *zap.Logger {
	return logger.WithTrace(ctx, e.logger)
}

// provisionRoom runs after commit. Its outcome never reaches the caller.
func (e *Engine) provisionRoom(ctx context.Context, req workspace.RoomRequest) {
	if e.rooms == nil {
		return
	}
	bg := trace.Detach(ctx)

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		ctx, cancel := context.WithTimeout(bg, e.roomTimeout)
		defer cancel()

		log := e.log(ctx).With(zap.Int64("contract_id", req.ContractID))
		room, err := e.rooms.CreateRoom(ctx, e.cred, req)
		if err != nil {
			metrics.IncrementWorkspaceProvision("failed")
			log.Error("Failed to create workspace room", zap.Error(err))
			return
		}
		metrics.IncrementWorkspaceProvision("success")
		log.Info("Workspace room created", zap.Int64("room_id", room.ID))
	}()
}

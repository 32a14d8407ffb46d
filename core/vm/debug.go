// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package vm

import (
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/evmts/guillotine-go/common"
	"github.com/evmts/guillotine-go/common/gopool"
	"github.com/evmts/guillotine-go/core/tracing"
	"github.com/evmts/guillotine-go/log"
)

// isDebugSignal reports whether err is a debugger verdict rather than an
// execution failure. Debug signals unwind through every frame untouched.
func isDebugSignal(err error) bool {
	return err != nil && (stderrors.Is(err, ErrDebugAborted) || stderrors.Is(err, ErrDebugPaused))
}

// observeOpcode fires the step hook for the instruction at pc and converts
// its verdict into control flow. A panicking hook must not take the process
// down; it aborts the execution instead, carrying the recovered value.
func (in *EVMInterpreter) observeOpcode(pc uint64, op OpCode, gas, cost uint64, scope *ScopeContext) (err error) {
	hook := in.evm.Config.Tracer.OnOpcode
	if hook == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.L().Warn("step hook panicked", zap.Uint64("pc", pc), zap.Stringer("op", op), zap.Any("panic", r))
			err = errors.Wrapf(ErrDebugAborted, "step hook panic: %v", r)
		}
	}()
	switch hook(pc, byte(op), gas, cost, scope, in.returnData, in.evm.depth, nil) {
	case tracing.Continue:
		return nil
	case tracing.Pause:
		// Parking is the debug session's job; a Pause verdict that
		// reaches the interpreter has nowhere to resume from.
		return errors.Wrap(ErrDebugAborted, "pause verdict outside a debug session")
	default:
		debugAborts.Inc()
		return ErrDebugAborted
	}
}

// observeEnter fires the message hook for a new frame, with the same verdict
// and containment rules as observeOpcode.
func (evm *EVM) observeEnter(typ OpCode, from, to common.Address, input []byte, gas uint64, value *uint256.Int) (err error) {
	hook := evm.Config.Tracer.OnEnter
	if hook == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.L().Warn("enter hook panicked", zap.Stringer("type", typ), zap.Any("panic", r))
			err = errors.Wrapf(ErrDebugAborted, "enter hook panic: %v", r)
		}
	}()
	switch hook(evm.depth, byte(typ), from, to, input, gas, value) {
	case tracing.Continue:
		return nil
	case tracing.Pause:
		return errors.Wrap(ErrDebugAborted, "pause verdict outside a debug session")
	default:
		debugAborts.Inc()
		return ErrDebugAborted
	}
}

// observeExit fires the frame-end hook. Exit observations carry no verdict,
// so only panic containment applies.
func (evm *EVM) observeExit(output []byte, gasUsed uint64, err error, reverted bool) {
	hook := evm.Config.Tracer.OnExit
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.L().Warn("exit hook panicked", zap.Any("panic", r))
		}
	}()
	hook(evm.depth, output, gasUsed, err, reverted)
}

// PausePoint is the state snapshot surfaced when a debug hook pauses the
// execution: the instruction about to run and copies of the frame's stack
// and memory.
type PausePoint struct {
	PC     uint64
	Op     OpCode
	Gas    uint64
	Depth  int
	Stack  []uint256.Int
	Memory []byte
}

// DebugSession drives one call under pausable hooks. The call runs on a pool
// goroutine; a Pause verdict parks that goroutine inside the hook callback
// and hands control back to the driver with ErrDebugPaused. Resume unparks
// it, and the pending instruction executes without being observed again.
//
// A session is single-shot: Start once, then Resume until the call finishes
// or Abort tears it down.
type DebugSession struct {
	evm  *EVM
	user *tracing.Hooks

	pauseCh   chan PausePoint
	resumeCh  chan struct{}
	doneCh    chan struct{}
	abortCh   chan struct{}
	abortOnce sync.Once
	aborted   atomic.Bool
	started   atomic.Bool

	result CallResult
	err    error
}

// NewDebugSession wraps the user's hooks with the session's pause plumbing
// and installs them on the EVM. The user hooks may be nil; the session then
// only serves Abort.
func NewDebugSession(evm *EVM, user *tracing.Hooks) *DebugSession {
	s := &DebugSession{
		evm:      evm,
		user:     user,
		pauseCh:  make(chan PausePoint),
		resumeCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
		abortCh:  make(chan struct{}),
	}
	evm.Config.Tracer = &tracing.Hooks{
		OnOpcode: s.onOpcode,
		OnEnter:  s.onEnter,
		OnExit:   s.onExit,
		OnFault:  s.onFault,
	}
	return s
}

// Start launches the call on the session goroutine and blocks until it
// either pauses (ErrDebugPaused with the pause point) or finishes.
func (s *DebugSession) Start(params CallParams) (CallResult, *PausePoint, error) {
	if !s.started.CompareAndSwap(false, true) {
		return CallResult{}, nil, errors.New("debug session already started")
	}
	if err := gopool.Submit(func() {
		defer close(s.doneCh)
		s.result, s.err = s.evm.Execute(params)
	}); err != nil {
		return CallResult{}, nil, errors.Wrap(err, "submit debug session")
	}
	return s.wait()
}

// Resume continues a paused session and blocks until the next pause or the
// end of the call. Resuming a session that is not paused is a driver error
// and deadlocks; the pause point returned from Start/Resume is the handshake.
func (s *DebugSession) Resume() (CallResult, *PausePoint, error) {
	s.resumeCh <- struct{}{}
	return s.wait()
}

// Abort unwinds the session. A parked execution goroutine is released, and
// one blocked handing over a pause point nobody is waiting for is released
// too, so Abort is safe from a goroutine other than the driving one. The call
// fails with ErrDebugAborted.
func (s *DebugSession) Abort() (CallResult, error) {
	s.aborted.Store(true)
	s.abortOnce.Do(func() { close(s.abortCh) })
	<-s.doneCh
	return s.result, s.err
}

func (s *DebugSession) wait() (CallResult, *PausePoint, error) {
	select {
	case point := <-s.pauseCh:
		debugPauses.Inc()
		return CallResult{}, &point, ErrDebugPaused
	case <-s.doneCh:
		return s.result, nil, s.err
	}
}

// park suspends the execution goroutine until Resume or Abort. Returns the
// verdict to hand back to the interpreter. Both waits also watch the abort
// signal: the handover must never wedge on a driver that aborted instead of
// consuming the pause.
func (s *DebugSession) park(point PausePoint) tracing.Action {
	select {
	case s.pauseCh <- point:
	case <-s.abortCh:
		return tracing.Abort
	}
	select {
	case <-s.resumeCh:
	case <-s.abortCh:
		return tracing.Abort
	}
	if s.aborted.Load() {
		return tracing.Abort
	}
	return tracing.Continue
}

func (s *DebugSession) onOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) tracing.Action {
	if s.aborted.Load() {
		return tracing.Abort
	}
	action := tracing.Continue
	if s.user != nil && s.user.OnOpcode != nil {
		action = s.user.OnOpcode(pc, op, gas, cost, scope, rData, depth, err)
	}
	if action != tracing.Pause {
		return action
	}
	return s.park(PausePoint{
		PC:     pc,
		Op:     OpCode(op),
		Gas:    gas,
		Depth:  depth,
		Stack:  append([]uint256.Int(nil), scope.StackData()...),
		Memory: common.CopyBytes(scope.MemoryData()),
	})
}

func (s *DebugSession) onEnter(depth int, typ byte, from, to common.Address, input []byte, gas uint64, value *uint256.Int) tracing.Action {
	if s.aborted.Load() {
		return tracing.Abort
	}
	action := tracing.Continue
	if s.user != nil && s.user.OnEnter != nil {
		action = s.user.OnEnter(depth, typ, from, to, input, gas, value)
	}
	if action != tracing.Pause {
		return action
	}
	return s.park(PausePoint{Op: OpCode(typ), Gas: gas, Depth: depth})
}

func (s *DebugSession) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if s.user != nil && s.user.OnExit != nil {
		s.user.OnExit(depth, output, gasUsed, err, reverted)
	}
}

func (s *DebugSession) onFault(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, depth int, err error) {
	if s.user != nil && s.user.OnFault != nil {
		s.user.OnFault(pc, op, gas, cost, scope, depth, err)
	}
}

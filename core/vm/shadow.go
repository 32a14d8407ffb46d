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
	"bytes"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/evmts/guillotine-go/log"
)

// ShadowGranularity selects how often the comparator checkpoints the two
// executions against each other.
type ShadowGranularity uint8

const (
	// GranularityCall compares only the final outcome of the call.
	GranularityCall ShadowGranularity = iota
	// GranularityBlock additionally compares pc, gas and the full stack at
	// every basic-block boundary of the outermost frame.
	GranularityBlock
)

// String implements fmt.Stringer.
func (g ShadowGranularity) String() string {
	if g == GranularityBlock {
		return "block"
	}
	return "call"
}

// ShadowConfig configures a Shadow comparator.
type ShadowConfig struct {
	Granularity ShadowGranularity
	// CompareState, when set, is consulted after both executions finish to
	// compare their host effects. It returns a description of the first
	// difference and whether the two states are equal.
	CompareState func(primary, reference StateDB) (diff string, equal bool)
}

// MismatchError reports the first observed divergence between the optimized
// and the reference execution. The dumps come from go-spew so nested values
// stay readable.
type MismatchError struct {
	Granularity ShadowGranularity
	Field       string
	// BlockPC is the byte offset of the block whose entry diverged. Only
	// meaningful for block-granular mismatches.
	BlockPC   uint64
	Primary   string
	Reference string
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	if e.Granularity == GranularityBlock {
		return fmt.Sprintf("shadow mismatch (%s) at block 0x%x: primary=%s reference=%s",
			e.Field, e.BlockPC, e.Primary, e.Reference)
	}
	return fmt.Sprintf("shadow mismatch (%s): primary=%s reference=%s",
		e.Field, e.Primary, e.Reference)
}

// Shadow runs every call twice, once through the block-dispatch interpreter
// and once through the per-instruction oracle, and reports the first
// divergence. The two EVMs must be built over independent copies of the same
// state; the comparator never copies state itself.
type Shadow struct {
	primary   *EVM
	reference *EVM
	cfg       ShadowConfig
}

// NewShadow pairs a primary EVM with a reference EVM. The reference is forced
// onto the oracle loop.
func NewShadow(primary, reference *EVM, cfg ShadowConfig) *Shadow {
	reference.Config.UseReferenceInterpreter = true
	reference.interpreter = NewEVMInterpreter(reference)
	return &Shadow{primary: primary, reference: reference, cfg: cfg}
}

// Execute runs params on both engines and compares them at the configured
// granularity. The returned CallResult is always the primary's; a divergence
// is reported as a *MismatchError without invalidating that result. Debug
// signals from the primary pass through untouched.
func (s *Shadow) Execute(params CallParams) (CallResult, error) {
	shadowRuns.Inc()
	if s.cfg.Granularity == GranularityBlock {
		return s.executeBlock(params)
	}
	return s.executeCall(params)
}

// executeCall runs both engines to completion concurrently and compares the
// outcomes.
func (s *Shadow) executeCall(params CallParams) (CallResult, error) {
	var (
		g          errgroup.Group
		pres, rres CallResult
		perr, rerr error
	)
	g.Go(func() error {
		pres, perr = s.primary.Execute(params)
		return nil
	})
	g.Go(func() error {
		rres, rerr = s.reference.Execute(params)
		return nil
	})
	g.Wait() // the closures never fail; outcomes are compared below

	if isDebugSignal(perr) {
		return pres, perr
	}
	if mismatch := s.compareResults(pres, rres, rerr); mismatch != nil {
		return pres, mismatch
	}
	return pres, nil
}

// executeBlock drives the reference in lock-step with the primary: every time
// the primary's dispatch loop enters a basic block of the outermost frame,
// the reference single-steps to the same byte offset and pc, gas and stack
// are compared. Lock-step only serves plain and static calls; other kinds
// fall back to whole-call comparison.
func (s *Shadow) executeBlock(params CallParams) (CallResult, error) {
	if params.Kind != CallKindCall && params.Kind != CallKindStaticCall {
		return s.executeCall(params)
	}
	code := s.reference.StateDB.GetCode(params.Recipient)
	if len(code) == 0 {
		// No frame to step; a code-less call has no block boundaries.
		return s.executeCall(params)
	}
	frame, restore, err := s.newReferenceFrame(params, code)
	if err != nil {
		return CallResult{}, err
	}
	defer frame.release()
	defer restore()

	var mismatch *MismatchError
	first := true
	s.primary.interpreter.blockHook = func(blockPC uint64, gas uint64, stack *Stack) error {
		if mismatch != nil || s.primary.depth != 1 {
			return nil
		}
		// After the first boundary the reference must make progress before
		// it can legally sit at the same offset again (self-loop blocks).
		if !first {
			if m := stepTo(frame, blockPC); m != nil {
				mismatch = m
				return nil
			}
		}
		first = false
		mismatch = compareBoundary(blockPC, gas, stack, frame)
		return nil
	}
	defer func() { s.primary.interpreter.blockHook = nil }()

	pres, perr := s.primary.Execute(params)
	if isDebugSignal(perr) {
		return pres, perr
	}
	if mismatch != nil {
		recordMismatch(mismatch)
		return pres, mismatch
	}

	// Drain the reference past the last compared boundary and compare the
	// final outcomes.
	output, rerr := frame.run()
	rres := CallResult{
		Output:  output,
		GasLeft: frame.GasRemaining(),
		Success: rerr == nil,
		Err:     rerr,
	}
	if rerr != nil && rerr != ErrExecutionReverted {
		rres.GasLeft = 0
	}
	if m := s.compareResults(pres, rres, nil); m != nil {
		return pres, m
	}
	return pres, nil
}

// newReferenceFrame mirrors the primary frame's prologue on the reference
// state and builds a single-stepping frame over the recipient's code.
func (s *Shadow) newReferenceFrame(params CallParams, code []byte) (*RefFrame, func(), error) {
	value := params.Value
	if value == nil || params.Kind == CallKindStaticCall {
		value = new(uint256.Int)
	}
	if !s.reference.StateDB.Exist(params.Recipient) {
		s.reference.StateDB.CreateAccount(params.Recipient)
	}
	if !value.IsZero() {
		s.reference.Context.Transfer(s.reference.StateDB, params.Caller, params.Recipient, value)
	}
	contract := GetContract(params.Caller, params.Recipient, value, params.Gas)
	contract.SetCallCode(s.reference.StateDB.GetCodeHash(params.Recipient), code)
	frame, err := NewRefFrame(s.reference, contract, params.Input)
	if err != nil {
		ReturnContract(contract)
		return nil, nil, err
	}
	if params.Kind == CallKindStaticCall {
		frame.in.readOnly = true
	}
	// Sub-calls issued by the frame must see the frame itself on the stack.
	s.reference.depth++
	restore := func() {
		s.reference.depth--
		ReturnContract(contract)
	}
	return frame, restore, nil
}

// stepTo advances the frame until it reaches blockPC. A frame that halts
// before getting there diverged from the primary's control flow.
func stepTo(frame *RefFrame, blockPC uint64) *MismatchError {
	for {
		if _, err := frame.Step(); err != nil {
			_, rerr := frame.Output()
			return &MismatchError{
				Granularity: GranularityBlock,
				Field:       "control flow",
				BlockPC:     blockPC,
				Primary:     fmt.Sprintf("entered block 0x%x", blockPC),
				Reference:   spew.Sdump(rerr),
			}
		}
		if frame.IsStopped() || frame.PC() == blockPC {
			break
		}
	}
	if frame.IsStopped() {
		return &MismatchError{
			Granularity: GranularityBlock,
			Field:       "control flow",
			BlockPC:     blockPC,
			Primary:     fmt.Sprintf("entered block 0x%x", blockPC),
			Reference:   fmt.Sprintf("halted at pc 0x%x", frame.PC()),
		}
	}
	return nil
}

// compareBoundary checks pc, gas and the full stack at a block boundary.
func compareBoundary(blockPC, gas uint64, stack *Stack, frame *RefFrame) *MismatchError {
	if frame.PC() != blockPC {
		return &MismatchError{
			Granularity: GranularityBlock,
			Field:       "pc",
			BlockPC:     blockPC,
			Primary:     fmt.Sprintf("0x%x", blockPC),
			Reference:   fmt.Sprintf("0x%x", frame.PC()),
		}
	}
	if refGas := frame.GasRemaining(); refGas != gas {
		return &MismatchError{
			Granularity: GranularityBlock,
			Field:       "gas",
			BlockPC:     blockPC,
			Primary:     fmt.Sprintf("%d", gas),
			Reference:   fmt.Sprintf("%d", refGas),
		}
	}
	pdata, rdata := stack.Data(), frame.Stack().Data()
	if len(pdata) != len(rdata) {
		return &MismatchError{
			Granularity: GranularityBlock,
			Field:       "stack depth",
			BlockPC:     blockPC,
			Primary:     fmt.Sprintf("%d", len(pdata)),
			Reference:   fmt.Sprintf("%d", len(rdata)),
		}
	}
	for i := range pdata {
		if pdata[i] != rdata[i] {
			return &MismatchError{
				Granularity: GranularityBlock,
				Field:       fmt.Sprintf("stack[%d]", i),
				BlockPC:     blockPC,
				Primary:     spew.Sdump(pdata[i]),
				Reference:   spew.Sdump(rdata[i]),
			}
		}
	}
	return nil
}

// compareResults checks the whole-call outcomes and, when configured, the
// host effects. rerr is the reference's engine-level error, if any.
func (s *Shadow) compareResults(pres, rres CallResult, rerr error) *MismatchError {
	if rerr != nil {
		m := &MismatchError{
			Granularity: s.cfg.Granularity,
			Field:       "reference engine",
			Primary:     spew.Sdump(pres.Err),
			Reference:   spew.Sdump(rerr),
		}
		recordMismatch(m)
		return m
	}
	var m *MismatchError
	switch {
	case pres.Success != rres.Success:
		m = &MismatchError{
			Field:     "success",
			Primary:   fmt.Sprintf("%v (%v)", pres.Success, pres.Err),
			Reference: fmt.Sprintf("%v (%v)", rres.Success, rres.Err),
		}
	case !bytes.Equal(pres.Output, rres.Output):
		m = &MismatchError{
			Field:     "output",
			Primary:   spew.Sdump(pres.Output),
			Reference: spew.Sdump(rres.Output),
		}
	case pres.GasLeft != rres.GasLeft:
		m = &MismatchError{
			Field:     "gas left",
			Primary:   fmt.Sprintf("%d", pres.GasLeft),
			Reference: fmt.Sprintf("%d", rres.GasLeft),
		}
	case pres.CreatedAddress != rres.CreatedAddress:
		m = &MismatchError{
			Field:     "created address",
			Primary:   pres.CreatedAddress.Hex(),
			Reference: rres.CreatedAddress.Hex(),
		}
	}
	if m == nil && s.cfg.CompareState != nil {
		if diff, equal := s.cfg.CompareState(s.primary.StateDB, s.reference.StateDB); !equal {
			m = &MismatchError{
				Field:     "state",
				Primary:   diff,
				Reference: diff,
			}
		}
	}
	if m != nil {
		m.Granularity = s.cfg.Granularity
		recordMismatch(m)
	}
	return m
}

func recordMismatch(m *MismatchError) {
	shadowMismatches.Inc()
	log.L().Warn("shadow mismatch",
		zap.Stringer("granularity", m.Granularity),
		zap.String("field", m.Field),
		zap.Uint64("blockPC", m.BlockPC))
}

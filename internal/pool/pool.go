// Package pool owns a fixed inventory of pre-allocated batch buffers and
// arbitrates exclusive access through an explicit per-slot state machine:
//
//	Available --Acquire--> InFlight --MarkTransferred--> Processing --ReturnBuffer--> Available
//	InFlight --Release--> Available
//	{InFlight, Processing} --timeout--> TimedOut --reclaim--> Available
//
// The pool is confined to the producer goroutine and is NOT safe for
// concurrent use: buffer returns from the consumer arrive as control
// messages and are applied on the producer side. Buffer memory itself is
// never shared; a slot holds its backing slice only while Available, and
// hands it out entirely on Acquire.
//
// The producer context has no timer facility, so timed-out slots are swept
// opportunistically from Acquire and ReturnBuffer. A reclaimed slot gets
// fresh backing memory of identical capacity; the original memory is
// presumed lost to the far side.
package pool

import (
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Raikerian/go-audio-bridge/internal/protocol"
)

// SlotState enumerates the lifecycle states of a buffer slot.
type SlotState uint8

const (
	// Available: the slot holds its backing memory and can be acquired.
	Available SlotState = iota
	// InFlight: the buffer is owned by the accumulator, not yet transferred.
	InFlight
	// Processing: the buffer has crossed to the consumer side.
	Processing
	// TimedOut: transient state during reclaim of an overdue slot.
	TimedOut
)

func (s SlotState) String() string {
	switch s {
	case Available:
		return "available"
	case InFlight:
		return "in_flight"
	case Processing:
		return "processing"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// slot is the bookkeeping record for one buffer.
type slot struct {
	index int
	state SlotState
	id    protocol.BufferID
	since time.Time
	buf   []float32 // held only while Available
}

// Config holds the fixed construction parameters of a pool.
type Config struct {
	// Size is the number of pre-allocated buffers.
	Size int
	// BufferCapacity is the sample capacity of each buffer.
	BufferCapacity int
	// ReclaimTimeout is how long a slot may stay InFlight/Processing before
	// its memory is presumed lost and replaced.
	ReclaimTimeout time.Duration
}

// Defaults for pool construction.
const (
	DefaultSize           = 16
	DefaultBufferCapacity = 4096
	DefaultReclaimTimeout = 5000 * time.Millisecond

	// reclaimHistorySize bounds the LRU of recently reclaimed buffer ids,
	// used to tell a stale return apart from a bogus one.
	reclaimHistorySize = 512
)

// Lease is the result of a successful Acquire: the buffer's handle and its
// memory, which the pool no longer holds.
type Lease struct {
	ID  protocol.BufferID
	Buf []float32
}

var (
	// ErrUnknownBuffer means the handle does not map to any in-use slot.
	ErrUnknownBuffer = errors.New("unknown buffer id")
	// ErrWrongState means the slot exists but is not in the state the
	// operation requires.
	ErrWrongState = errors.New("buffer slot in wrong state")
	// ErrBadSize means a returned buffer does not match the pool's capacity.
	ErrBadSize = errors.New("returned buffer has wrong size")
)

// Pool arbitrates exclusive access to a fixed set of batch buffers.
type Pool struct {
	logger *zap.Logger
	cfg    Config

	slots     []slot
	available []int                     // stack of Available slot indexes
	inUse     map[protocol.BufferID]int // InFlight/Processing id -> slot index
	reclaimed *lru.Cache[protocol.BufferID, time.Time]

	nextID protocol.BufferID

	acquireCount       uint64
	transferCount      uint64
	poolExhaustedCount uint64
	timeoutCount       uint64
	validationFailures uint64
	staleReturns       uint64
	returnedBuffers    uint64
}

// New pre-allocates cfg.Size buffers of cfg.BufferCapacity samples each.
// Zero config values fall back to the package defaults.
func New(logger *zap.Logger, cfg Config) (*Pool, error) {
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}
	if cfg.ReclaimTimeout == 0 {
		cfg.ReclaimTimeout = DefaultReclaimTimeout
	}
	if cfg.Size < 0 || cfg.BufferCapacity < 0 || cfg.ReclaimTimeout < 0 {
		return nil, fmt.Errorf("invalid pool config: size=%d capacity=%d timeout=%s",
			cfg.Size, cfg.BufferCapacity, cfg.ReclaimTimeout)
	}

	reclaimed, err := lru.New[protocol.BufferID, time.Time](reclaimHistorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create reclaim history: %w", err)
	}

	p := &Pool{
		logger:    logger,
		cfg:       cfg,
		slots:     make([]slot, cfg.Size),
		available: make([]int, 0, cfg.Size),
		inUse:     make(map[protocol.BufferID]int, cfg.Size),
		reclaimed: reclaimed,
	}
	now := time.Now()
	for i := range p.slots {
		p.slots[i] = slot{
			index: i,
			state: Available,
			since: now,
			buf:   make([]float32, cfg.BufferCapacity),
		}
		p.available = append(p.available, i)
	}

	logger.Info("Buffer pool initialized",
		zap.Int("size", cfg.Size),
		zap.Int("buffer_capacity", cfg.BufferCapacity),
		zap.Duration("reclaim_timeout", cfg.ReclaimTimeout))

	return p, nil
}

// Capacity returns the per-buffer sample capacity.
func (p *Pool) Capacity() int { return p.cfg.BufferCapacity }

// Size returns the fixed number of slots.
func (p *Pool) Size() int { return p.cfg.Size }

// Acquire pops an available slot, assigns a fresh BufferID and hands its
// memory out, marking the slot InFlight. The second result is false when
// the pool is exhausted; exhaustion is counted, never retried here.
// Overdue slots are swept first, since this call may be the only chance.
func (p *Pool) Acquire(now time.Time) (Lease, bool) {
	p.CheckTimeouts(now)

	p.acquireCount++
	if len(p.available) == 0 {
		p.poolExhaustedCount++
		return Lease{}, false
	}

	idx := p.available[len(p.available)-1]
	p.available = p.available[:len(p.available)-1]

	p.nextID++
	s := &p.slots[idx]
	s.state = InFlight
	s.id = p.nextID
	s.since = now

	buf := s.buf
	s.buf = nil // ownership moves to the caller
	p.inUse[s.id] = idx

	return Lease{ID: s.id, Buf: buf}, true
}

// MarkTransferred moves an InFlight slot to Processing once its buffer has
// been handed to the transfer channel. The Processing age, and so the
// reclaim deadline, is measured from now.
func (p *Pool) MarkTransferred(id protocol.BufferID, now time.Time) error {
	idx, ok := p.inUse[id]
	if !ok {
		return fmt.Errorf("mark transferred %d: %w", id, ErrUnknownBuffer)
	}
	s := &p.slots[idx]
	if s.state != InFlight {
		return fmt.Errorf("mark transferred %d (%s): %w", id, s.state, ErrWrongState)
	}
	s.state = Processing
	s.since = now
	p.transferCount++
	return nil
}

// Release returns an InFlight buffer directly to Available without a
// transfer. Used on stop and abnormal paths where the accumulator still
// holds a never-transferred buffer.
func (p *Pool) Release(id protocol.BufferID, buf []float32, now time.Time) error {
	idx, ok := p.inUse[id]
	if !ok {
		return fmt.Errorf("release %d: %w", id, ErrUnknownBuffer)
	}
	s := &p.slots[idx]
	if s.state != InFlight {
		return fmt.Errorf("release %d (%s): %w", id, s.state, ErrWrongState)
	}
	if len(buf) != p.cfg.BufferCapacity {
		return fmt.Errorf("release %d: %w: %d samples, want %d", id, ErrBadSize, len(buf), p.cfg.BufferCapacity)
	}
	p.adopt(idx, buf, now)
	return nil
}

// ReturnBuffer validates a consumer return and, on success, re-adopts the
// buffer and marks the slot Available. A mismatched id or wrongly sized
// buffer is rejected without mutating slot state; the slot (if any) stays
// Processing until the timeout sweep reclaims it. Overdue slots are swept
// first.
func (p *Pool) ReturnBuffer(id protocol.BufferID, buf []float32, now time.Time) error {
	p.CheckTimeouts(now)

	if len(buf) != p.cfg.BufferCapacity {
		p.validationFailures++
		p.logger.Warn("Rejected buffer return with wrong size",
			zap.Uint64("buffer_id", uint64(id)),
			zap.Int("samples", len(buf)),
			zap.Int("want", p.cfg.BufferCapacity))
		return fmt.Errorf("return %d: %w: %d samples, want %d", id, ErrBadSize, len(buf), p.cfg.BufferCapacity)
	}

	idx, ok := p.inUse[id]
	if !ok {
		p.validationFailures++
		if reclaimedAt, stale := p.reclaimed.Get(id); stale {
			// The slot timed out and was reclaimed before the return made
			// it back; expected with a slow consumer, nothing to restore.
			p.staleReturns++
			p.logger.Debug("Stale buffer return after reclaim",
				zap.Uint64("buffer_id", uint64(id)),
				zap.Time("reclaimed_at", reclaimedAt))
		} else {
			p.logger.Warn("Rejected return of unknown buffer",
				zap.Uint64("buffer_id", uint64(id)))
		}
		return fmt.Errorf("return %d: %w", id, ErrUnknownBuffer)
	}

	s := &p.slots[idx]
	if s.state != Processing {
		p.validationFailures++
		p.logger.Warn("Rejected buffer return in wrong state",
			zap.Uint64("buffer_id", uint64(id)),
			zap.String("state", s.state.String()))
		return fmt.Errorf("return %d (%s): %w", id, s.state, ErrWrongState)
	}

	p.adopt(idx, buf, now)
	p.returnedBuffers++
	return nil
}

// adopt re-takes ownership of buf for slot idx and marks it Available.
func (p *Pool) adopt(idx int, buf []float32, now time.Time) {
	s := &p.slots[idx]
	delete(p.inUse, s.id)
	s.state = Available
	s.id = 0
	s.since = now
	s.buf = buf
	p.available = append(p.available, idx)
}

// CheckTimeouts reclaims every InFlight/Processing slot older than the
// configured timeout by allocating fresh backing memory of identical
// capacity and marking the slot Available. It returns the number of slots
// reclaimed. There is no producer-side timer, so callers piggyback this on
// other operations; reclaim latency is "next few operations", not
// wall-clock precise.
func (p *Pool) CheckTimeouts(now time.Time) int {
	reclaimedCount := 0
	for i := range p.slots {
		s := &p.slots[i]
		if s.state != InFlight && s.state != Processing {
			continue
		}
		if now.Sub(s.since) < p.cfg.ReclaimTimeout {
			continue
		}

		id := s.id
		s.state = TimedOut
		p.reclaimed.Add(id, now)
		delete(p.inUse, id)

		// Original memory is lost to the far side; replace it.
		s.buf = make([]float32, p.cfg.BufferCapacity)
		s.state = Available
		s.id = 0
		s.since = now
		p.available = append(p.available, i)

		p.timeoutCount++
		reclaimedCount++
		p.logger.Warn("Reclaimed timed-out buffer",
			zap.Uint64("buffer_id", uint64(id)),
			zap.Int("slot", i))
	}
	return reclaimedCount
}

// Snapshot returns live counts and cumulative counters with derived rates.
func (p *Pool) Snapshot() protocol.PoolStats {
	st := protocol.PoolStats{
		Size:               p.cfg.Size,
		AcquireCount:       p.acquireCount,
		TransferCount:      p.transferCount,
		PoolExhaustedCount: p.poolExhaustedCount,
		TimeoutCount:       p.timeoutCount,
		ValidationFailures: p.validationFailures,
		StaleReturns:       p.staleReturns,
		ReturnedBuffers:    p.returnedBuffers,
	}
	for i := range p.slots {
		switch p.slots[i].state {
		case Available:
			st.Available++
		case InFlight:
			st.InFlight++
		case Processing:
			st.Processing++
		case TimedOut:
			// transient, never observable between calls
		}
	}
	if st.AcquireCount > 0 {
		st.HitRate = float64(st.AcquireCount-st.PoolExhaustedCount) / float64(st.AcquireCount)
	}
	if st.TransferCount > 0 {
		st.ReuseRate = float64(st.ReturnedBuffers) / float64(st.TransferCount)
	}
	return st
}

package dispatch

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// tokenState tracks one member's progress through a round.
// Transitions only move forward: unvisited → pending → handled.
type tokenState uint8

const (
	stateUnvisited tokenState = iota
	statePending
	stateHandled
)

// round is the bookkeeping of one active Dispatch call.
// It exists only while dispatching and is dropped before Dispatch returns.
type round struct {
	id      string
	payload any

	// members is the registry order at round start. Subscribers registered
	// later are not members and are never invoked by this round.
	members []Token
	state   map[Token]tokenState
}

func newRound(id string, payload any, order []Token) *round {
	members := make([]Token, len(order))
	copy(members, order)

	state := make(map[Token]tokenState, len(members))
	for _, t := range members {
		state[t] = stateUnvisited
	}

	return &round{
		id:      id,
		payload: payload,
		members: members,
		state:   state,
	}
}

func (r *round) info() RoundInfo {
	return RoundInfo{
		ID:      r.id,
		Payload: r.payload,
		Members: len(r.members),
	}
}

// RoundInfo is the read-only view of a round given to observers.
type RoundInfo struct {
	// ID correlates every log line, span and trace event of the round.
	ID string

	// Payload is the value being distributed, passed unmodified.
	Payload any

	// Members is the number of subscribers registered when the round began.
	Members int
}

// RoundIDGenerator generates round correlation IDs.
// Implemented by UUIDv7Generator (production), FixedGenerator and
// SequenceGenerator (tests).
type RoundIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 round IDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined round IDs for testing.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
// Panics once all ids have been consumed, to catch tests that dispatch more
// rounds than they expect.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined ID.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all round IDs exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// SequenceGenerator returns "<prefix>-1", "<prefix>-2", ... without limit.
// Used by the conformance harness for byte-identical golden traces.
type SequenceGenerator struct {
	Prefix string

	mu  sync.Mutex
	seq int
}

// Generate returns the next ID in the sequence.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	prefix := g.Prefix
	if prefix == "" {
		prefix = "round"
	}
	return prefix + "-" + strconv.Itoa(g.seq)
}

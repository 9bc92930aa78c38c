package vault

import (
	"SynthVault/internal/governance"
	"SynthVault/internal/position"
	"SynthVault/internal/reserve"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

const GenesisHashSeed = "SynthVault:genesis:v1"

// Snapshot is everything the engine needs to resume after a restart.
type Snapshot struct {
	Sequence int64                                `json:"sequence"`
	TakenAt  time.Time                            `json:"taken_at"`
	State    State                                `json:"state"`
	Reserve  reserve.Snapshot                     `json:"reserve"`
	Position position.Snapshot                    `json:"position"`
	Alloc    governance.Snapshot[AllocationSplit] `json:"alloc"`
	Leverage governance.Snapshot[int64]           `json:"leverage"`
}

// Snapshot captures the engine between operations.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Sequence: e.sequence,
		TakenAt:  e.now(),
		State:    e.state.clone(),
		Reserve:  e.reserve.Snapshot(),
		Position: e.position.Snapshot(),
		Alloc:    e.allocLock.Snapshot(),
		Leverage: e.leverageLock.Snapshot(),
	}
}

// Restore loads a snapshot taken by Snapshot. Only valid before the engine
// serves traffic.
func (e *Engine) Restore(s Snapshot) error {
	if s.Sequence < 0 {
		return fmt.Errorf("invalid snapshot sequence %d", s.Sequence)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := s.State.clone()
	if st.LastAction == nil {
		st.LastAction = make(map[string]time.Time)
	}
	e.state = st
	e.sequence = s.Sequence
	e.reserve.Restore(s.Reserve)
	e.position.Restore(s.Position)
	e.allocLock.Restore(s.Alloc)
	e.leverageLock.Restore(s.Leverage)
	return nil
}

// StateHasher chains snapshot digests so a tampered or reordered snapshot
// history is detectable.
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with the genesis hash.
func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// NewStateHasherFrom resumes a chain at prev.
func NewStateHasherFrom(prev [32]byte) *StateHasher {
	return &StateHasher{prevHash: prev}
}

// ComputeHash returns SHA-256(prev_hash || sequence || digest) and advances
// the chain.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])
	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// PrevHash returns the current chain tip.
func (h *StateHasher) PrevHash() [32]byte {
	return h.prevHash
}

// Encode serializes a snapshot and chains its hash.
func (h *StateHasher) Encode(s Snapshot) ([]byte, [32]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, h.ComputeHash(s.Sequence, data), nil
}

// DecodeSnapshot parses a snapshot written by Encode.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return s, nil
}

// ResumeSequence moves the event sequence forward to seq so events journaled
// after the restored snapshot are never numbered twice.
func (e *Engine) ResumeSequence(seq int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq > e.sequence {
		e.sequence = seq
	}
}

// Package ledger provides the append-only governance event ledger.
//
// Every plan/exec/drop transition of the scheduler and every lock/free/
// vote/lift of the electorate appends one entry. Entries are hash-chained
// to their predecessor; the chain is verifiable end to end. Append-only;
// no deletions or mutations.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/tiller/pkg/contracts"
)

// genesisHash seeds the chain before the first entry.
const genesisHash = "genesis"

// Entry is an immutable, hash-chained governance event.
type Entry struct {
	Sequence    uint64              `json:"sequence"`
	EventID     string              `json:"event_id"`
	Event       contracts.EventType `json:"event"`
	Actor       contracts.Address   `json:"actor"`
	Subject     string              `json:"subject"` // action id, slate id, or candidate address
	Detail      map[string]any      `json:"detail,omitempty"`
	ContentHash string              `json:"content_hash"`
	PrevHash    string              `json:"prev_hash"`
	Timestamp   time.Time           `json:"timestamp"`
}

// Ledger is the append-only, hash-chained governance event log.
type Ledger struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		entries:  make([]Entry, 0),
		headHash: genesisHash,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Append records a governance event and returns the stored entry.
func (l *Ledger) Append(event contracts.EventType, actor contracts.Address, subject string, detail map[string]any) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1
	contentHash, err := entryHash(seq, event, actor, subject, detail, l.headHash)
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		Sequence:    seq,
		EventID:     uuid.New().String(),
		Event:       event,
		Actor:       actor,
		Subject:     subject,
		Detail:      detail,
		ContentHash: contentHash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock(),
	}

	l.entries = append(l.entries, entry)
	l.headHash = contentHash

	return entry, nil
}

// Get retrieves an entry by sequence number (1-based).
func (l *Ledger) Get(seq uint64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.entries)) {
		return nil, fmt.Errorf("ledger entry %d not found", seq)
	}
	entry := l.entries[seq-1]
	return &entry, nil
}

// Head returns the current head hash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of entries.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of all entries, oldest first.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Verify checks the integrity of the entire chain. On failure it returns
// false and a description of the first break.
func (l *Ledger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := genesisHash
	for i, entry := range l.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		recomputed, err := entryHash(entry.Sequence, entry.Event, entry.Actor, entry.Subject, entry.Detail, entry.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d: %v", i+1, err)
		}
		if recomputed != entry.ContentHash {
			return false, fmt.Sprintf("content hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}

	if prevHash != l.headHash {
		return false, "head hash does not match last entry"
	}
	return true, ""
}

func entryHash(seq uint64, event contracts.EventType, actor contracts.Address, subject string, detail map[string]any, prevHash string) (string, error) {
	hashInput := struct {
		Seq     uint64              `json:"seq"`
		Event   contracts.EventType `json:"event"`
		Actor   contracts.Address   `json:"actor"`
		Subject string              `json:"subject"`
		Detail  map[string]any      `json:"detail"`
		Prev    string              `json:"prev"`
	}{seq, event, actor, subject, detail, prevHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ledger entry: %w", err)
	}
	h := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

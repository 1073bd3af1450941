package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultDir     = "./wal/transfers"
	segmentLimit   = 1000
	maxSegments    = 100
	transferPrefix = "transfer_"
)

// ErrClosed is returned once the journal has been closed.
var ErrClosed = errors.New("transfer journal is not initialized")

// Entry describes one committed transfer.
type Entry struct {
	ID          uuid.UUID       `json:"id"`
	FromID      int64           `json:"from_id"`
	ToID        int64           `json:"to_id"`
	Amount      decimal.Decimal `json:"amount"`
	CommittedAt time.Time       `json:"committed_at"`
}

// Record is an Entry together with its position in the log.
type Record struct {
	Index uint64
	Entry Entry
}

// Journal appends committed transfers to a write-ahead log on disk.
type Journal struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// Open initializes a journal under dir.
func Open(dir string) (*Journal, error) {
	if dir == "" {
		dir = defaultDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "transfers_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init transfer journal: %w", err)
	}
	return &Journal{wal: wal}, nil
}

// Append writes e and returns its index. A zero ID or timestamp is filled in.
func (j *Journal) Append(e Entry) (Record, error) {
	if j == nil || j.wal == nil {
		return Record{}, ErrClosed
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CommittedAt.IsZero() {
		e.CommittedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("marshal transfer entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	idx := j.wal.CurrentIndex() + 1
	if err := j.wal.Write(idx, transferPrefix+e.ID.String(), payload); err != nil {
		return Record{}, fmt.Errorf("write transfer entry: %w", err)
	}
	return Record{Index: idx, Entry: e}, nil
}

// After returns up to limit entries written after index. A non-positive limit
// returns everything.
func (j *Journal) After(index uint64, limit int) ([]Record, error) {
	if j == nil || j.wal == nil {
		return nil, ErrClosed
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	current := j.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]Record, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := j.wal.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("read transfer entry %d: %w", idx, err)
		}
		if !strings.HasPrefix(key, transferPrefix) {
			continue
		}
		var e Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode transfer entry %d: %w", idx, err)
		}
		records = append(records, Record{Index: idx, Entry: e})
		if limit > 0 && len(records) == limit {
			break
		}
	}
	return records, nil
}

// CurrentIndex returns the index of the last entry.
func (j *Journal) CurrentIndex() uint64 {
	if j == nil || j.wal == nil {
		return 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.wal.CurrentIndex()
}

// Close flushes and closes the log.
func (j *Journal) Close() error {
	if j == nil || j.wal == nil {
		return ErrClosed
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	err := j.wal.Close()
	j.wal = nil
	return err
}

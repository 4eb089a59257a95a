package notification

import (
	"context"
	"sync"
	"time"
)

// Change operations.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
)

// TableLoanApplications is the only table published on the feed.
const TableLoanApplications = "loan_applications"

// Change is one row-level event of the loan application table.
type Change struct {
	Op       string    `json:"op"`
	Table    string    `json:"table"`
	RecordID string    `json:"id"`
	UserID   string    `json:"user_id"`
	Status   string    `json:"status"`
	At       time.Time `json:"at"`
}

// Feed is a one-way change stream. Subscribe returns a channel that is
// closed when ctx is done.
type Feed interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(ctx context.Context) (<-chan Change, error)
}

const subscriberBuffer = 32

// Broker is an in-process Feed. Slow subscribers miss events rather than
// block publishers.
type Broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Change
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Change)}
}

// Publish fans change out to every subscriber.
func (b *Broker) Publish(_ context.Context, change Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- change:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done.
func (b *Broker) Subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, subscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Package simdb is an in-memory users/orders store that charges a simulated
// network latency on every read. Reads sleep through core.Sleep, so inside
// a task they suspend it instead of holding a carrier.
package simdb

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Swind/go-vthread/core"
)

// ErrNotFound is returned for unknown ids.
var ErrNotFound = errors.New("simdb: not found")

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Order struct {
	ID     string  `json:"id"`
	UserID string  `json:"user_id"`
	Amount float64 `json:"amount"`
}

// Options configures a DB.
type Options struct {
	MinLatency time.Duration
	MaxLatency time.Duration

	// PoolSize bounds concurrent queries, like a connection pool. Zero means
	// unbounded. Waiting for a connection suspends the task.
	PoolSize int
}

// DefaultOptions returns 50-80ms latency and no pool.
func DefaultOptions() Options {
	return Options{MinLatency: 50 * time.Millisecond, MaxLatency: 80 * time.Millisecond}
}

// DB is safe for concurrent use.
type DB struct {
	opts Options
	pool *core.Semaphore

	mu     sync.RWMutex
	users  map[string]User
	orders map[string][]Order
	ids    []string

	queries   atomic.Int64
	inFlight  atomic.Int64
	maxFlight atomic.Int64
}

func New(opts Options) *DB {
	db := &DB{
		opts:   opts,
		users:  make(map[string]User),
		orders: make(map[string][]Order),
	}
	if opts.PoolSize > 0 {
		db.pool = core.NewSemaphore(opts.PoolSize)
	}
	return db
}

// Seed adds users, each with ordersPerUser orders of 10, 20, ... in amount.
func (db *DB) Seed(users, ordersPerUser int) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := 0; i < users; i++ {
		id := "user-" + uuid.NewString()
		db.users[id] = User{
			ID:    id,
			Name:  fmt.Sprintf("User %d", i),
			Email: fmt.Sprintf("user%d@example.com", i),
		}
		orders := make([]Order, ordersPerUser)
		for j := range orders {
			orders[j] = Order{
				ID:     "order-" + uuid.NewString(),
				UserID: id,
				Amount: float64(j+1) * 10,
			}
		}
		db.orders[id] = orders
		db.ids = append(db.ids, id)
	}
}

// UserCount and OrderCount report the seeded size.
func (db *DB) UserCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.users)
}

func (db *DB) OrderCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n := 0
	for _, o := range db.orders {
		n += len(o)
	}
	return n
}

// UserIDs returns all user ids in a stable order.
func (db *DB) UserIDs() []string {
	db.mu.RLock()
	ids := append([]string(nil), db.ids...)
	db.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// RandomUserID picks a seeded user. It returns "" on an empty DB.
func (db *DB) RandomUserID() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if len(db.ids) == 0 {
		return ""
	}
	return db.ids[rand.IntN(len(db.ids))]
}

// GetUser reads one user.
func (db *DB) GetUser(ctx context.Context, id string) (User, error) {
	if err := db.query(ctx); err != nil {
		return User{}, err
	}
	db.mu.RLock()
	u, ok := db.users[id]
	db.mu.RUnlock()
	if !ok {
		return User{}, errors.Wrapf(ErrNotFound, "user %s", id)
	}
	return u, nil
}

// GetOrders reads a user's orders. An unknown user has no orders.
func (db *DB) GetOrders(ctx context.Context, userID string) ([]Order, error) {
	if err := db.query(ctx); err != nil {
		return nil, err
	}
	db.mu.RLock()
	orders := append([]Order(nil), db.orders[userID]...)
	db.mu.RUnlock()
	return orders, nil
}

// PutUser inserts or replaces u.
func (db *DB) PutUser(ctx context.Context, u User) error {
	if err := db.query(ctx); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.users[u.ID]; !ok {
		db.ids = append(db.ids, u.ID)
	}
	db.users[u.ID] = u
	return nil
}

// query takes a connection and waits out the simulated latency.
func (db *DB) query(ctx context.Context) error {
	if db.pool != nil {
		if err := db.pool.Acquire(ctx); err != nil {
			return err
		}
		defer db.pool.Release()
	}

	n := db.inFlight.Add(1)
	defer db.inFlight.Add(-1)
	for {
		m := db.maxFlight.Load()
		if n <= m || db.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	db.queries.Add(1)
	return core.Sleep(ctx, db.latency())
}

func (db *DB) latency() time.Duration {
	lo, hi := db.opts.MinLatency, db.opts.MaxLatency
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

// Stats describes query activity since New.
type Stats struct {
	Queries     int64
	InFlight    int64
	MaxInFlight int64
}

func (db *DB) Stats() Stats {
	return Stats{
		Queries:     db.queries.Load(),
		InFlight:    db.inFlight.Load(),
		MaxInFlight: db.maxFlight.Load(),
	}
}

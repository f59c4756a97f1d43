package records

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/dgraph-io/badger/v3"
)

// Badger stores records on disk; the state is part of the key.
type Badger struct {
	db *badger.DB
}

func OpenBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &Badger{db: db}, nil
}

// key format: order/<STATE>/<zero-padded id>
func recordKey(state orders.State, id orders.OrderID) []byte {
	return []byte(fmt.Sprintf("order/%s/%020d", state, id))
}

func statePrefix(state orders.State) []byte {
	return []byte("order/" + string(state) + "/")
}

func (b *Badger) Write(_ context.Context, id orders.OrderID, content []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(orders.StateOrdered, id), content)
	})
}

func (b *Badger) Move(_ context.Context, id orders.OrderID, from, to orders.State) error {
	src, dst := recordKey(from, id), recordKey(to, id)
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(src)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %d at %s", ErrNotFound, id, from)
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Set(dst, val); err != nil {
			return err
		}
		return txn.Delete(src)
	})
}

func (b *Badger) Read(_ context.Context, id orders.OrderID) (orders.State, []byte, error) {
	var (
		state orders.State
		val   []byte
	)
	err := b.db.View(func(txn *badger.Txn) error {
		for _, s := range orders.States {
			item, err := txn.Get(recordKey(s, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			state = s
			val, err = item.ValueCopy(nil)
			return err
		}
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	})
	if err != nil {
		return "", nil, err
	}
	return state, val, nil
}

func (b *Badger) List(_ context.Context, state orders.State) ([]orders.OrderID, error) {
	prefix := statePrefix(state)
	ids := make([]orders.OrderID, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("bad record key %q: %w", it.Item().Key(), err)
			}
			ids = append(ids, orders.OrderID(n))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

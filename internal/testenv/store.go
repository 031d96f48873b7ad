package testenv

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/CosmWasm/wasmbridge/host"
	"github.com/CosmWasm/wasmbridge/types"
)

// store keeps the state of every contract in one MemDB, each contract under
// its own key prefix.
type store struct {
	db *dbm.MemDB
}

func newStore() *store {
	return &store{db: dbm.NewMemDB()}
}

// prefix is the key space of addr. Bech32 strings never contain a zero byte,
// so no prefix is a prefix of another.
func prefix(addr types.HumanAddress) []byte {
	return append([]byte(addr), 0)
}

func prefixEnd(addr types.HumanAddress) []byte {
	return append([]byte(addr), 1)
}

func namespaced(addr types.HumanAddress, key []byte) []byte {
	return append(prefix(addr), key...)
}

func (s *store) get(addr types.HumanAddress, key []byte) ([]byte, error) {
	return s.db.Get(namespaced(addr, key))
}

func (s *store) set(addr types.HumanAddress, key, value []byte) error {
	if len(key) == 0 {
		return host.Rejectf("key must not be empty")
	}
	if value == nil {
		value = []byte{}
	}
	return s.db.Set(namespaced(addr, key), value)
}

func (s *store) delete(addr types.HumanAddress, key []byte) error {
	if len(key) == 0 {
		return host.Rejectf("key must not be empty")
	}
	return s.db.Delete(namespaced(addr, key))
}

// record is one key-value pair of a scan, with the contract prefix removed.
type record struct {
	key, value []byte
}

// scan materializes [start, end) of addr's state. nil bounds are open.
func (s *store) scan(addr types.HumanAddress, start, end []byte, order types.Order) ([]record, error) {
	lo, hi := prefix(addr), prefixEnd(addr)
	if start != nil {
		lo = namespaced(addr, start)
	}
	if end != nil {
		hi = namespaced(addr, end)
	}

	var (
		it  dbm.Iterator
		err error
	)
	switch order {
	case types.Ascending:
		it, err = s.db.Iterator(lo, hi)
	case types.Descending:
		it, err = s.db.ReverseIterator(lo, hi)
	default:
		return nil, host.Rejectf("invalid scan order %d", order)
	}
	if err != nil {
		return nil, fmt.Errorf("open iterator: %w", err)
	}
	defer it.Close()

	n := len(prefix(addr))
	var out []record
	for ; it.Valid(); it.Next() {
		out = append(out, record{
			key:   append([]byte(nil), it.Key()[n:]...),
			value: append([]byte(nil), it.Value()...),
		})
	}
	return out, it.Error()
}

// clone copies the whole database for a transaction snapshot.
func (s *store) clone() (*store, error) {
	out := dbm.NewMemDB()
	it, err := s.db.Iterator(nil, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		if err := out.Set(it.Key(), it.Value()); err != nil {
			return nil, err
		}
	}
	return &store{db: out}, it.Error()
}

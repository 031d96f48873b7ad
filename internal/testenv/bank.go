package testenv

import (
	"github.com/google/btree"
	"github.com/holiman/uint256"

	"github.com/CosmWasm/wasmbridge/host"
	"github.com/CosmWasm/wasmbridge/types"
)

type balance struct {
	addr   types.HumanAddress
	denom  string
	amount uint256.Int
}

func balanceLess(a, b balance) bool {
	if a.addr != b.addr {
		return a.addr < b.addr
	}
	return a.denom < b.denom
}

// bank is the ledger. Entries are values, so a clone shares nothing that
// later writes can change.
type bank struct {
	tree *btree.BTreeG[balance]
}

func newBank() *bank {
	return &bank{tree: btree.NewG(8, balanceLess)}
}

func (b *bank) clone() *bank {
	return &bank{tree: b.tree.Clone()}
}

func (b *bank) get(addr types.HumanAddress, denom string) uint256.Int {
	bal, _ := b.tree.Get(balance{addr: addr, denom: denom})
	return bal.amount
}

func (b *bank) put(addr types.HumanAddress, denom string, amount uint256.Int) {
	if amount.IsZero() {
		b.tree.Delete(balance{addr: addr, denom: denom})
		return
	}
	b.tree.ReplaceOrInsert(balance{addr: addr, denom: denom, amount: amount})
}

// all returns the non-zero balances of addr sorted by denom.
func (b *bank) all(addr types.HumanAddress) []types.Coin {
	coins := []types.Coin{}
	b.tree.AscendGreaterOrEqual(balance{addr: addr}, func(bal balance) bool {
		if bal.addr != addr {
			return false
		}
		coins = append(coins, types.Coin{Denom: bal.denom, Amount: bal.amount.Dec()})
		return true
	})
	return coins
}

func parseAmount(c types.Coin) (*uint256.Int, error) {
	if c.Denom == "" {
		return nil, host.Rejectf("coin without denom")
	}
	v, err := uint256.FromDecimal(c.Amount)
	if err != nil {
		return nil, host.Rejectf("invalid amount %q of %s: %v", c.Amount, c.Denom, err)
	}
	return v, nil
}

func (b *bank) mint(addr types.HumanAddress, coins []types.Coin) error {
	return b.atomic(func() error { return b.credit(addr, coins) })
}

func (b *bank) burn(addr types.HumanAddress, coins []types.Coin) error {
	return b.atomic(func() error { return b.debit(addr, coins) })
}

// transfer moves coins from one account to another. Nothing moves unless
// every coin is covered.
func (b *bank) transfer(from, to types.HumanAddress, coins []types.Coin) error {
	return b.atomic(func() error {
		if err := b.debit(from, coins); err != nil {
			return err
		}
		return b.credit(to, coins)
	})
}

// atomic undoes every change fn made when it fails.
func (b *bank) atomic(fn func() error) error {
	snapshot := b.tree.Clone()
	if err := fn(); err != nil {
		b.tree = snapshot
		return err
	}
	return nil
}

func (b *bank) credit(addr types.HumanAddress, coins []types.Coin) error {
	for _, c := range coins {
		v, err := parseAmount(c)
		if err != nil {
			return err
		}
		cur := b.get(addr, c.Denom)
		sum, overflow := new(uint256.Int).AddOverflow(&cur, v)
		if overflow {
			return host.Rejectf("balance of %s overflows in %s", c.Denom, addr)
		}
		b.put(addr, c.Denom, *sum)
	}
	return nil
}

func (b *bank) debit(addr types.HumanAddress, coins []types.Coin) error {
	for _, c := range coins {
		v, err := parseAmount(c)
		if err != nil {
			return err
		}
		cur := b.get(addr, c.Denom)
		if cur.Lt(v) {
			return host.Rejectf("insufficient funds: %s has %s%s, needs %s%s", addr, cur.Dec(), c.Denom, v.Dec(), c.Denom)
		}
		b.put(addr, c.Denom, *new(uint256.Int).Sub(&cur, v))
	}
	return nil
}

package model

import (
	"fmt"
	"math/big"
	"sort"
)

// PoolState is the reconstructed AMM state of one pool. The concrete type
// decides the family and never changes for a pool.
type PoolState interface {
	Family() Family
	Clone() PoolState
	validate() error
}

// ConstantProductState is an x*y=k pool.
type ConstantProductState struct {
	Reserve0 *big.Int `json:"reserve0"`
	Reserve1 *big.Int `json:"reserve1"`
	FeeBps   uint32   `json:"fee_bps"`
}

func (s *ConstantProductState) Family() Family { return FamilyConstantProduct }

func (s *ConstantProductState) Clone() PoolState {
	return &ConstantProductState{
		Reserve0: cloneInt(s.Reserve0),
		Reserve1: cloneInt(s.Reserve1),
		FeeBps:   s.FeeBps,
	}
}

func (s *ConstantProductState) validate() error {
	if err := nonNegative("reserve0", s.Reserve0); err != nil {
		return err
	}
	if err := nonNegative("reserve1", s.Reserve1); err != nil {
		return err
	}
	if s.FeeBps >= 10_000 {
		return fmt.Errorf("fee bps out of range: %d", s.FeeBps)
	}
	return nil
}

// TickLiquidity is the net liquidity change when crossing an initialized tick
// from left to right.
type TickLiquidity struct {
	Index        int32    `json:"index"`
	LiquidityNet *big.Int `json:"liquidity_net"`
}

// ConcentratedState is a tick-based concentrated liquidity pool. SqrtPriceX96
// is Q64.96 and FeePips uses a 1e6 denominator.
type ConcentratedState struct {
	SqrtPriceX96 *big.Int        `json:"sqrt_price_x96"`
	Tick         int32           `json:"tick"`
	Liquidity    *big.Int        `json:"liquidity"`
	TickSpacing  int32           `json:"tick_spacing"`
	FeePips      uint32          `json:"fee_pips"`
	Ticks        []TickLiquidity `json:"ticks"`
}

func (s *ConcentratedState) Family() Family { return FamilyConcentrated }

func (s *ConcentratedState) Clone() PoolState {
	ticks := make([]TickLiquidity, len(s.Ticks))
	for i, t := range s.Ticks {
		ticks[i] = TickLiquidity{Index: t.Index, LiquidityNet: cloneInt(t.LiquidityNet)}
	}
	return &ConcentratedState{
		SqrtPriceX96: cloneInt(s.SqrtPriceX96),
		Tick:         s.Tick,
		Liquidity:    cloneInt(s.Liquidity),
		TickSpacing:  s.TickSpacing,
		FeePips:      s.FeePips,
		Ticks:        ticks,
	}
}

func (s *ConcentratedState) validate() error {
	if s.SqrtPriceX96 == nil || s.SqrtPriceX96.Sign() <= 0 {
		return fmt.Errorf("sqrt price must be positive")
	}
	if err := nonNegative("liquidity", s.Liquidity); err != nil {
		return err
	}
	if s.FeePips >= 1_000_000 {
		return fmt.Errorf("fee pips out of range: %d", s.FeePips)
	}
	for i, t := range s.Ticks {
		if t.LiquidityNet == nil {
			return fmt.Errorf("tick %d has nil liquidity net", t.Index)
		}
		if i > 0 && s.Ticks[i-1].Index >= t.Index {
			return fmt.Errorf("ticks not strictly ascending at %d", t.Index)
		}
	}
	return nil
}

// tickPos returns the position of index in Ticks and whether it exists.
func (s *ConcentratedState) tickPos(index int32) (int, bool) {
	pos := sort.Search(len(s.Ticks), func(i int) bool { return s.Ticks[i].Index >= index })
	return pos, pos < len(s.Ticks) && s.Ticks[pos].Index == index
}

// Bin is one discrete price bucket of a bin-liquidity pool.
type Bin struct {
	ID       uint32   `json:"id"`
	ReserveX *big.Int `json:"reserve_x"`
	ReserveY *big.Int `json:"reserve_y"`
}

// BinState is a bin-liquidity pool. Bins covers a bounded window around the
// active bin, sorted by ID.
type BinState struct {
	ActiveID   uint32 `json:"active_id"`
	BinStep    uint16 `json:"bin_step"`
	BaseFeeBps uint32 `json:"base_fee_bps"`
	Bins       []Bin  `json:"bins"`
}

func (s *BinState) Family() Family { return FamilyBin }

func (s *BinState) Clone() PoolState {
	bins := make([]Bin, len(s.Bins))
	for i, b := range s.Bins {
		bins[i] = Bin{ID: b.ID, ReserveX: cloneInt(b.ReserveX), ReserveY: cloneInt(b.ReserveY)}
	}
	return &BinState{
		ActiveID:   s.ActiveID,
		BinStep:    s.BinStep,
		BaseFeeBps: s.BaseFeeBps,
		Bins:       bins,
	}
}

func (s *BinState) validate() error {
	if s.BinStep == 0 {
		return fmt.Errorf("bin step must be positive")
	}
	if s.BaseFeeBps >= 10_000 {
		return fmt.Errorf("base fee bps out of range: %d", s.BaseFeeBps)
	}
	for i, b := range s.Bins {
		if err := nonNegative(fmt.Sprintf("bin %d reserve x", b.ID), b.ReserveX); err != nil {
			return err
		}
		if err := nonNegative(fmt.Sprintf("bin %d reserve y", b.ID), b.ReserveY); err != nil {
			return err
		}
		if i > 0 && s.Bins[i-1].ID >= b.ID {
			return fmt.Errorf("bins not strictly ascending at %d", b.ID)
		}
	}
	return nil
}

// BinPos returns the position of id in Bins and whether it exists.
func (s *BinState) BinPos(id uint32) (int, bool) {
	pos := sort.Search(len(s.Bins), func(i int) bool { return s.Bins[i].ID >= id })
	return pos, pos < len(s.Bins) && s.Bins[pos].ID == id
}

// StableState is a stable-swap pool. Fee uses a 1e10 denominator.
type StableState struct {
	Balances []*big.Int `json:"balances"`
	Amp      *big.Int   `json:"amp"`
	Fee      *big.Int   `json:"fee"`
}

func (s *StableState) Family() Family { return FamilyStable }

func (s *StableState) Clone() PoolState {
	balances := make([]*big.Int, len(s.Balances))
	for i, b := range s.Balances {
		balances[i] = cloneInt(b)
	}
	return &StableState{Balances: balances, Amp: cloneInt(s.Amp), Fee: cloneInt(s.Fee)}
}

func (s *StableState) validate() error {
	if len(s.Balances) < 2 {
		return fmt.Errorf("stable pool needs at least two balances")
	}
	for i, b := range s.Balances {
		if err := nonNegative(fmt.Sprintf("balance %d", i), b); err != nil {
			return err
		}
	}
	if s.Amp == nil || s.Amp.Sign() <= 0 {
		return fmt.Errorf("amplification must be positive")
	}
	if err := nonNegative("fee", s.Fee); err != nil {
		return err
	}
	return nil
}

// ValidateState checks the numeric invariants of a state.
func ValidateState(s PoolState) error {
	if s == nil {
		return fmt.Errorf("nil pool state")
	}
	return s.validate()
}

func nonNegative(name string, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%s is nil", name)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%s: %w", name, ErrNegativeBalance)
	}
	return nil
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

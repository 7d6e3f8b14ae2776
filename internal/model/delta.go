package model

import (
	"fmt"
	"math/big"
)

// PoolDelta is a decoded change to a pool's state.
type PoolDelta interface {
	Family() Family
	apply(PoolState) (PoolState, error)
}

// ApplyDelta returns the state that results from applying d to s. s is never
// modified. A result that would hold negative reserves or liquidity is
// rejected.
func ApplyDelta(s PoolState, d PoolDelta) (PoolState, error) {
	if s == nil || d == nil {
		return nil, fmt.Errorf("nil state or delta")
	}
	if s.Family() != d.Family() {
		return nil, fmt.Errorf("%w: state %s, delta %s", ErrFamilyMismatch, s.Family(), d.Family())
	}
	next, err := d.apply(s)
	if err != nil {
		return nil, err
	}
	if err := next.validate(); err != nil {
		return nil, err
	}
	return next, nil
}

// ReservesSync replaces both reserves of a constant-product pool.
type ReservesSync struct {
	Reserve0 *big.Int `json:"reserve0"`
	Reserve1 *big.Int `json:"reserve1"`
}

func (d ReservesSync) Family() Family { return FamilyConstantProduct }

func (d ReservesSync) apply(s PoolState) (PoolState, error) {
	cur := s.(*ConstantProductState)
	return &ConstantProductState{
		Reserve0: cloneInt(d.Reserve0),
		Reserve1: cloneInt(d.Reserve1),
		FeeBps:   cur.FeeBps,
	}, nil
}

// ConcentratedSwap carries the post-swap price, tick and active liquidity.
type ConcentratedSwap struct {
	SqrtPriceX96 *big.Int `json:"sqrt_price_x96"`
	Liquidity    *big.Int `json:"liquidity"`
	Tick         int32    `json:"tick"`
}

func (d ConcentratedSwap) Family() Family { return FamilyConcentrated }

func (d ConcentratedSwap) apply(s PoolState) (PoolState, error) {
	next := s.Clone().(*ConcentratedState)
	next.SqrtPriceX96 = cloneInt(d.SqrtPriceX96)
	next.Liquidity = cloneInt(d.Liquidity)
	next.Tick = d.Tick
	return next, nil
}

// ConcentratedLiquidity adds (positive Amount) or removes (negative Amount)
// liquidity over [TickLower, TickUpper).
type ConcentratedLiquidity struct {
	TickLower int32    `json:"tick_lower"`
	TickUpper int32    `json:"tick_upper"`
	Amount    *big.Int `json:"amount"`
}

func (d ConcentratedLiquidity) Family() Family { return FamilyConcentrated }

func (d ConcentratedLiquidity) apply(s PoolState) (PoolState, error) {
	if d.TickLower >= d.TickUpper {
		return nil, fmt.Errorf("invalid tick range [%d, %d)", d.TickLower, d.TickUpper)
	}
	if d.Amount == nil {
		return nil, fmt.Errorf("nil liquidity amount")
	}
	next := s.Clone().(*ConcentratedState)
	next.addTickNet(d.TickLower, d.Amount)
	next.addTickNet(d.TickUpper, new(big.Int).Neg(d.Amount))
	if d.TickLower <= next.Tick && next.Tick < d.TickUpper {
		next.Liquidity = new(big.Int).Add(next.Liquidity, d.Amount)
		if next.Liquidity.Sign() < 0 {
			return nil, fmt.Errorf("active liquidity: %w", ErrNegativeBalance)
		}
	}
	return next, nil
}

func (s *ConcentratedState) addTickNet(index int32, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	pos, ok := s.tickPos(index)
	if ok {
		net := new(big.Int).Add(s.Ticks[pos].LiquidityNet, amount)
		if net.Sign() == 0 {
			s.Ticks = append(s.Ticks[:pos], s.Ticks[pos+1:]...)
			return
		}
		s.Ticks[pos].LiquidityNet = net
		return
	}
	s.Ticks = append(s.Ticks, TickLiquidity{})
	copy(s.Ticks[pos+1:], s.Ticks[pos:])
	s.Ticks[pos] = TickLiquidity{Index: index, LiquidityNet: cloneInt(amount)}
}

// BinSwap is a swap that ended in bin ID. Amounts are what entered and left
// that bin. Protocol fees leave the bin reserves.
type BinSwap struct {
	ID           uint32   `json:"id"`
	AmountInX    *big.Int `json:"amount_in_x"`
	AmountInY    *big.Int `json:"amount_in_y"`
	AmountOutX   *big.Int `json:"amount_out_x"`
	AmountOutY   *big.Int `json:"amount_out_y"`
	ProtocolFeeX *big.Int `json:"protocol_fee_x"`
	ProtocolFeeY *big.Int `json:"protocol_fee_y"`
}

func (d BinSwap) Family() Family { return FamilyBin }

func (d BinSwap) apply(s PoolState) (PoolState, error) {
	next := s.Clone().(*BinState)
	dx := sub(add(zeroIfNil(d.AmountInX)), zeroIfNil(d.ProtocolFeeX), zeroIfNil(d.AmountOutX))
	dy := sub(add(zeroIfNil(d.AmountInY)), zeroIfNil(d.ProtocolFeeY), zeroIfNil(d.AmountOutY))
	if err := next.adjustBin(d.ID, dx, dy); err != nil {
		return nil, err
	}
	next.ActiveID = d.ID
	return next, nil
}

// BinLiquidity deposits into or withdraws from a set of bins.
type BinLiquidity struct {
	IDs      []uint32   `json:"ids"`
	AmountsX []*big.Int `json:"amounts_x"`
	AmountsY []*big.Int `json:"amounts_y"`
	Withdraw bool       `json:"withdraw"`
}

func (d BinLiquidity) Family() Family { return FamilyBin }

func (d BinLiquidity) apply(s PoolState) (PoolState, error) {
	if len(d.IDs) != len(d.AmountsX) || len(d.IDs) != len(d.AmountsY) {
		return nil, fmt.Errorf("bin liquidity length mismatch: %d ids, %d x, %d y", len(d.IDs), len(d.AmountsX), len(d.AmountsY))
	}
	next := s.Clone().(*BinState)
	for i, id := range d.IDs {
		dx, dy := cloneInt(d.AmountsX[i]), cloneInt(d.AmountsY[i])
		if d.Withdraw {
			dx.Neg(dx)
			dy.Neg(dy)
		}
		if err := next.adjustBin(id, dx, dy); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (s *BinState) adjustBin(id uint32, dx, dy *big.Int) error {
	pos, ok := s.BinPos(id)
	if !ok {
		if dx.Sign() < 0 || dy.Sign() < 0 {
			return fmt.Errorf("bin %d outside tracked window: %w", id, ErrNegativeBalance)
		}
		s.Bins = append(s.Bins, Bin{})
		copy(s.Bins[pos+1:], s.Bins[pos:])
		s.Bins[pos] = Bin{ID: id, ReserveX: dx, ReserveY: dy}
		return nil
	}
	bin := &s.Bins[pos]
	bin.ReserveX = new(big.Int).Add(bin.ReserveX, dx)
	bin.ReserveY = new(big.Int).Add(bin.ReserveY, dy)
	if bin.ReserveX.Sign() < 0 || bin.ReserveY.Sign() < 0 {
		return fmt.Errorf("bin %d: %w", id, ErrNegativeBalance)
	}
	return nil
}

// StableExchange moves Sold of coin SoldID in and Bought of coin BoughtID out.
type StableExchange struct {
	SoldID   int      `json:"sold_id"`
	Sold     *big.Int `json:"sold"`
	BoughtID int      `json:"bought_id"`
	Bought   *big.Int `json:"bought"`
}

func (d StableExchange) Family() Family { return FamilyStable }

func (d StableExchange) apply(s PoolState) (PoolState, error) {
	next := s.Clone().(*StableState)
	n := len(next.Balances)
	if d.SoldID < 0 || d.SoldID >= n || d.BoughtID < 0 || d.BoughtID >= n || d.SoldID == d.BoughtID {
		return nil, fmt.Errorf("invalid coin indexes %d -> %d for %d coins", d.SoldID, d.BoughtID, n)
	}
	next.Balances[d.SoldID] = new(big.Int).Add(next.Balances[d.SoldID], zeroIfNil(d.Sold))
	next.Balances[d.BoughtID] = new(big.Int).Sub(next.Balances[d.BoughtID], zeroIfNil(d.Bought))
	return next, nil
}

// StableLiquidity adds or removes per-coin amounts.
type StableLiquidity struct {
	Amounts []*big.Int `json:"amounts"`
	Remove  bool       `json:"remove"`
}

func (d StableLiquidity) Family() Family { return FamilyStable }

func (d StableLiquidity) apply(s PoolState) (PoolState, error) {
	next := s.Clone().(*StableState)
	if len(d.Amounts) != len(next.Balances) {
		return nil, fmt.Errorf("stable liquidity has %d amounts for %d coins", len(d.Amounts), len(next.Balances))
	}
	for i, amount := range d.Amounts {
		if d.Remove {
			next.Balances[i] = new(big.Int).Sub(next.Balances[i], zeroIfNil(amount))
		} else {
			next.Balances[i] = new(big.Int).Add(next.Balances[i], zeroIfNil(amount))
		}
	}
	return next, nil
}

// StableAmp sets a new amplification coefficient.
type StableAmp struct {
	Amp *big.Int `json:"amp"`
}

func (d StableAmp) Family() Family { return FamilyStable }

func (d StableAmp) apply(s PoolState) (PoolState, error) {
	next := s.Clone().(*StableState)
	next.Amp = cloneInt(d.Amp)
	return next, nil
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func add(values ...*big.Int) *big.Int {
	out := new(big.Int)
	for _, v := range values {
		out.Add(out, v)
	}
	return out
}

func sub(base *big.Int, values ...*big.Int) *big.Int {
	out := new(big.Int).Set(base)
	for _, v := range values {
		out.Sub(out, v)
	}
	return out
}

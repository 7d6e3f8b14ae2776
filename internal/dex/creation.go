package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"spreadScope/internal/model"
)

// CreationTopic returns the topic0 of the factory event announcing a pool.
func CreationTopic(family model.Family) (common.Hash, error) {
	event, err := creationEvent(family)
	if err != nil {
		return common.Hash{}, err
	}
	return event.ID, nil
}

// ParseCreation decodes a factory creation log into a pool identity.
func ParseCreation(family model.Family, log types.Log) (model.PoolIdentity, error) {
	event, err := creationEvent(family)
	if err != nil {
		return model.PoolIdentity{}, err
	}
	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return model.PoolIdentity{}, decodeError(log, errUnsupportedTopic)
	}

	id := model.PoolIdentity{
		Family:       family,
		Factory:      log.Address,
		CreatedBlock: log.BlockNumber,
	}

	switch family {
	case model.FamilyConstantProduct:
		var indexed struct {
			Token0 common.Address
			Token1 common.Address
		}
		if err := parseIndexed(event, log.Topics, &indexed); err != nil {
			return model.PoolIdentity{}, decodeError(log, err)
		}
		values, err := unpackNonIndexed(event, log.Data, 1)
		if err != nil {
			return model.PoolIdentity{}, decodeError(log, err)
		}
		if id.Address, err = asAddress(values[0]); err != nil {
			return model.PoolIdentity{}, decodeError(log, err)
		}
		id.Token0, id.Token1 = indexed.Token0, indexed.Token1
	case model.FamilyConcentrated:
		var indexed struct {
			Token0 common.Address
			Token1 common.Address
			Fee    *big.Int
		}
		if err := parseIndexed(event, log.Topics, &indexed); err != nil {
			return model.PoolIdentity{}, decodeError(log, err)
		}
		values, err := unpackNonIndexed(event, log.Data, 2)
		if err != nil {
			return model.PoolIdentity{}, decodeError(log, err)
		}
		if id.Address, err = asAddress(values[1]); err != nil {
			return model.PoolIdentity{}, decodeError(log, err)
		}
		id.Token0, id.Token1 = indexed.Token0, indexed.Token1
	case model.FamilyBin:
		var indexed struct {
			TokenX  common.Address
			TokenY  common.Address
			BinStep *big.Int
		}
		if err := parseIndexed(event, log.Topics, &indexed); err != nil {
			return model.PoolIdentity{}, decodeError(log, err)
		}
		values, err := unpackNonIndexed(event, log.Data, 1)
		if err != nil {
			return model.PoolIdentity{}, decodeError(log, err)
		}
		if id.Address, err = asAddress(values[0]); err != nil {
			return model.PoolIdentity{}, decodeError(log, err)
		}
		id.Token0, id.Token1 = indexed.TokenX, indexed.TokenY
	case model.FamilyStable:
		var indexed struct {
			SwapContract common.Address
		}
		if err := parseIndexed(event, log.Topics, &indexed); err != nil {
			return model.PoolIdentity{}, decodeError(log, err)
		}
		values, err := unpackNonIndexed(event, log.Data, 2)
		if err != nil {
			return model.PoolIdentity{}, decodeError(log, err)
		}
		tokenA, err := asAddress(values[0])
		if err != nil {
			return model.PoolIdentity{}, decodeError(log, err)
		}
		tokenB, err := asAddress(values[1])
		if err != nil {
			return model.PoolIdentity{}, decodeError(log, err)
		}
		id.Address, id.Token0, id.Token1 = indexed.SwapContract, tokenA, tokenB
	default:
		return model.PoolIdentity{}, fmt.Errorf("unsupported family %s", family)
	}

	if id.Address == (common.Address{}) || id.Token0 == id.Token1 {
		return model.PoolIdentity{}, decodeError(log, fmt.Errorf("malformed creation event"))
	}
	return id, nil
}

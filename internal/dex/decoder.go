package dex

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"spreadScope/internal/model"
)

var errUnsupportedTopic = errors.New("unsupported topic0")

// Decoder turns pool logs of one AMM family into state deltas.
type Decoder interface {
	Family() model.Family
	Topics() []common.Hash
	CanDecode(topic0 common.Hash) bool
	Decode(log types.Log) (*model.PoolUpdate, error)
}

// Dispatcher routes logs to the decoder that owns their topic0.
type Dispatcher struct {
	byTopic  map[common.Hash]Decoder
	decoders []Decoder
}

// NewDispatcher indexes decoders by topic0. Two decoders claiming the same
// topic is a configuration error.
func NewDispatcher(decoders ...Decoder) (*Dispatcher, error) {
	d := &Dispatcher{byTopic: make(map[common.Hash]Decoder)}
	for _, dec := range decoders {
		if dec == nil {
			continue
		}
		for _, topic := range dec.Topics() {
			if other, ok := d.byTopic[topic]; ok {
				return nil, fmt.Errorf("topic0 %s claimed by %s and %s", topic.Hex(), other.Family(), dec.Family())
			}
			d.byTopic[topic] = dec
		}
		d.decoders = append(d.decoders, dec)
	}
	return d, nil
}

// NewDefaultDispatcher builds a dispatcher for the given families, or all
// families when none are given.
func NewDefaultDispatcher(families ...model.Family) (*Dispatcher, error) {
	if len(families) == 0 {
		families = model.Families()
	}
	decoders := make([]Decoder, 0, len(families))
	for _, family := range families {
		dec, err := NewDecoder(family)
		if err != nil {
			return nil, err
		}
		decoders = append(decoders, dec)
	}
	return NewDispatcher(decoders...)
}

// NewDecoder builds the decoder of a family.
func NewDecoder(family model.Family) (Decoder, error) {
	switch family {
	case model.FamilyConstantProduct:
		return NewConstantProductDecoder()
	case model.FamilyConcentrated:
		return NewConcentratedDecoder()
	case model.FamilyBin:
		return NewBinDecoder()
	case model.FamilyStable:
		return NewStableDecoder()
	default:
		return nil, fmt.Errorf("unsupported family %s", family)
	}
}

// Topics returns every topic0 handled, sorted.
func (d *Dispatcher) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(d.byTopic))
	for topic := range d.byTopic {
		out = append(out, topic)
	}
	sortHashes(out)
	return out
}

// Families returns the families with a registered decoder.
func (d *Dispatcher) Families() []model.Family {
	out := make([]model.Family, 0, len(d.decoders))
	for _, dec := range d.decoders {
		out = append(out, dec.Family())
	}
	return out
}

// CanDecode reports whether any decoder owns topic0.
func (d *Dispatcher) CanDecode(topic0 common.Hash) bool {
	_, ok := d.byTopic[topic0]
	return ok
}

// Decode decodes a log. Every failure is a *model.DecodeError.
func (d *Dispatcher) Decode(log types.Log) (*model.PoolUpdate, error) {
	if len(log.Topics) == 0 {
		return nil, decodeError(log, errors.New("missing topics"))
	}
	dec, ok := d.byTopic[log.Topics[0]]
	if !ok {
		return nil, decodeError(log, errUnsupportedTopic)
	}
	update, err := dec.Decode(log)
	if err != nil {
		var de *model.DecodeError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, decodeError(log, err)
	}
	return update, nil
}

func decodeError(log types.Log, err error) *model.DecodeError {
	var topic0 common.Hash
	if len(log.Topics) > 0 {
		topic0 = log.Topics[0]
	}
	return &model.DecodeError{
		Address: log.Address,
		Topic0:  topic0,
		Block:   log.BlockNumber,
		Index:   uint32(log.Index),
		Err:     err,
	}
}

// eventSet maps topic0 to the ABI events a decoder accepts.
type eventSet struct {
	family model.Family
	events map[common.Hash]abi.Event
}

func newEventSet(family model.Family) eventSet {
	return eventSet{family: family, events: make(map[common.Hash]abi.Event)}
}

func (s eventSet) add(parsed abi.ABI, names ...string) error {
	for _, name := range names {
		event, ok := parsed.Events[name]
		if !ok {
			return fmt.Errorf("event %s missing from %s abi", name, s.family)
		}
		s.events[event.ID] = event
	}
	return nil
}

func (s eventSet) Family() model.Family { return s.family }

func (s eventSet) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(s.events))
	for topic := range s.events {
		out = append(out, topic)
	}
	sortHashes(out)
	return out
}

func (s eventSet) CanDecode(topic0 common.Hash) bool {
	_, ok := s.events[topic0]
	return ok
}

func (s eventSet) lookup(log types.Log) (abi.Event, error) {
	if len(log.Topics) == 0 {
		return abi.Event{}, errors.New("missing topics")
	}
	event, ok := s.events[log.Topics[0]]
	if !ok {
		return abi.Event{}, errUnsupportedTopic
	}
	return event, nil
}

func (s eventSet) update(log types.Log, delta model.PoolDelta) *model.PoolUpdate {
	return &model.PoolUpdate{
		Pool:     log.Address,
		Family:   s.family,
		Sequence: model.Sequence{Block: log.BlockNumber, Index: uint32(log.Index)},
		TxHash:   log.TxHash,
		Delta:    delta,
	}
}

func parseIndexed(event abi.Event, topics []common.Hash, out interface{}) error {
	fields := indexedArguments(event.Inputs)
	if len(topics) != len(fields)+1 {
		return fmt.Errorf("expected %d topics, got %d", len(fields)+1, len(topics))
	}
	if err := abi.ParseTopics(out, fields, topics[1:]); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	return nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, data []byte, want int) ([]interface{}, error) {
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) < want {
		return nil, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
	}
	return values, nil
}

func sortHashes(hashes []common.Hash) {
	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i].Big().Cmp(hashes[j].Big()) < 0
	})
}

package network

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/pithecene-io/streamrun/types"
)

// Endpoint is one replica a partition's sub-partition can be routed to.
type Endpoint struct {
	ID   string
	Addr string
}

// SelectionStrategy chooses among a partition's replica endpoints.
type SelectionStrategy int

const (
	// StrategyRoundRobin rotates across replicas on every commit.
	StrategyRoundRobin SelectionStrategy = iota
	// StrategySticky pins a partition key to the first endpoint it was
	// routed to, for the life of the selector.
	StrategySticky
)

// partitionState is the routing state for one registered partition's
// endpoint set, grounded on proxy.Selector's poolState.
type partitionState struct {
	endpoints []Endpoint
	rrIndex   int
	sticky    int
	hasSticky bool
}

// EndpointSelector routes a PartitionKey to one of its registered
// replica endpoints. Grounded on proxy.Selector's round-robin/sticky
// machinery: a partition key -> endpoint set is the same kind of
// addressing problem as the teacher's {pool, sticky_key} -> endpoint.
type EndpointSelector struct {
	mu         sync.Mutex
	partitions map[string]*partitionState
	strategy   SelectionStrategy
}

// NewEndpointSelector creates a selector using strategy for every
// registered partition.
func NewEndpointSelector(strategy SelectionStrategy) *EndpointSelector {
	return &EndpointSelector{
		partitions: make(map[string]*partitionState),
		strategy:   strategy,
	}
}

// RegisterPartition registers (or replaces) the replica endpoint set for
// key. endpoints must be non-empty.
func (s *EndpointSelector) RegisterPartition(key types.PartitionKey, endpoints []Endpoint) error {
	if len(endpoints) == 0 {
		return fmt.Errorf("network: partition %s requires at least one endpoint", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions[key.String()] = &partitionState{endpoints: endpoints}
	return nil
}

// Select returns the endpoint key currently routes to. commit advances
// the round-robin counter (or fixes the sticky assignment); a
// non-committing call previews the selection without mutating state.
func (s *EndpointSelector) Select(key types.PartitionKey, commit bool) (Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.partitions[key.String()]
	if !ok {
		return Endpoint{}, &Error{Kind: KindChannelRejected, Msg: fmt.Sprintf("unknown partition %s", key)}
	}

	switch s.strategy {
	case StrategySticky:
		if state.hasSticky {
			return state.endpoints[state.sticky], nil
		}
		idx, err := randIndex(len(state.endpoints))
		if err != nil {
			return Endpoint{}, err
		}
		if commit {
			state.sticky = idx
			state.hasSticky = true
		}
		return state.endpoints[idx], nil
	default:
		idx := state.rrIndex % len(state.endpoints)
		if commit {
			state.rrIndex++
		}
		return state.endpoints[idx], nil
	}
}

func randIndex(n int) (int, error) {
	if n == 1 {
		return 0, nil
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("network: random selection failed: %w", err)
	}
	return int(v.Int64()), nil
}

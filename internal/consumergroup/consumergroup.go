// Package consumergroup defines the shape of consumer-group coordination
// without implementing it. Coordinating consumer offsets across a group
// of readers is out of scope for this broker's core; this stub exists so
// a future transport can depend on a stable interface.
package consumergroup

import "github.com/ndungu/logbroker/internal/brokererr"

// Coordinator would assign topic partitions to group members and track
// committed offsets per group. No implementation ships with this broker.
type Coordinator interface {
	Join(group, memberID string, topics []string) error
	CommitOffset(group, topic string, offset uint64) error
	CommittedOffset(group, topic string) (uint64, error)
}

// Unimplemented is a Coordinator that rejects every call, used as the
// default wiring until a real coordinator exists.
type Unimplemented struct{}

func (Unimplemented) Join(group, memberID string, topics []string) error {
	return brokererr.New(brokererr.KindInvalidArgument, "consumer-group coordination is not implemented")
}

func (Unimplemented) CommitOffset(group, topic string, offset uint64) error {
	return brokererr.New(brokererr.KindInvalidArgument, "consumer-group coordination is not implemented")
}

func (Unimplemented) CommittedOffset(group, topic string) (uint64, error) {
	return 0, brokererr.New(brokererr.KindInvalidArgument, "consumer-group coordination is not implemented")
}

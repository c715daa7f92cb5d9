// Package clock provides monotonic timestamps and opaque id generation for
// a session: correlation ids, segment/sentence/paragraph/job ids.
package clock

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time as milliseconds since the Unix epoch.
// A real Clock is backed by time.Now; tests substitute a fake.
type Clock interface {
	NowMillis() int64
}

// System is the production Clock, backed by the wall clock (time.Now).
type System struct{}

func (System) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// IDGen mints opaque, monotonically increasing ids scoped to one session.
// It is safe for concurrent use.
type IDGen struct {
	prefix string
	seq    atomic.Uint64
}

// NewIDGen creates an IDGen that prefixes every id with prefix (e.g. "seg",
// "sent", "para", "job"). Ids are not safe to compare across sessions.
func NewIDGen(prefix string) *IDGen {
	return &IDGen{prefix: prefix}
}

// Next returns the next id in sequence, e.g. "seg-000001".
func (g *IDGen) Next() string {
	n := g.seq.Add(1)
	return fmt.Sprintf("%s-%06d", g.prefix, n)
}

// NewCorrelationID mints a fresh session-scoping correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}

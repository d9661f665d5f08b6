package presence

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/google/uuid"
)

// RefMinter mints fresh Ref tokens for a single owning node. Each process
// lifetime gets a random epoch (derived from a UUIDv4) so tokens minted by a
// restarted process differ from anything it minted before, without
// persisting a counter across restarts — presence state is explicitly not
// durable. A random epoch is not ordered against earlier ones: tokens
// increase only within one process lifetime.
type RefMinter struct {
	epoch uint64
	seq   atomic.Uint64
}

// NewRefMinter creates a minter with a fresh random epoch.
func NewRefMinter() *RefMinter {
	id := uuid.New()
	return &RefMinter{epoch: binary.BigEndian.Uint64(id[0:8])}
}

// Mint returns the next Ref for this process, strictly greater than every
// Ref this minter has returned before.
func (m *RefMinter) Mint() Ref {
	return Ref{Epoch: m.epoch, Seq: m.seq.Add(1)}
}

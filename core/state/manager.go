package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"lendchain/storage"
)

// Manager reads and writes the registry's persisted state. Records are RLP
// encoded under prefixed keys; the zero byte slice never appears as a stored
// value, so presence checks can rely on the backing store's Has.
//
// Manager is not safe for concurrent use. The node serialises access.
type Manager struct {
	db     storage.Database
	module [20]byte
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// SetModuleSpender records the lending module's ledger address. Token pulls
// from any other account must be covered by an allowance granted to it.
func (m *Manager) SetModuleSpender(addr [20]byte) { m.module = addr }

// ModuleSpender returns the configured module address.
func (m *Manager) ModuleSpender() [20]byte { return m.module }

// Begin redirects subsequent writes into an in-memory overlay. Nothing
// reaches the backing database until Commit; Rollback discards the staged
// writes. Begin/Commit pairs do not nest.
func (m *Manager) Begin() {
	m.db = storage.NewOverlay(m.db)
}

// Commit applies the staged writes to the backing database.
func (m *Manager) Commit() error {
	overlay, ok := m.db.(*storage.Overlay)
	if !ok {
		return fmt.Errorf("state: commit without a staged overlay")
	}
	m.db = overlay.Base()
	return overlay.Commit()
}

// Rollback discards the staged writes. A no-op when nothing is staged.
func (m *Manager) Rollback() {
	if overlay, ok := m.db.(*storage.Overlay); ok {
		m.db = overlay.Base()
	}
}

func (m *Manager) putRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, encoded)
}

// getRLP decodes the record at key into out, reporting whether it existed.
func (m *Manager) getRLP(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putUint64(key []byte, v uint64) error {
	return m.putRLP(key, v)
}

func (m *Manager) getUint64(key []byte) (uint64, bool, error) {
	var v uint64
	ok, err := m.getRLP(key, &v)
	return v, ok, err
}

func (m *Manager) putMarker(key []byte) error {
	return m.db.Put(key, []byte{1})
}

func (m *Manager) hasMarker(key []byte) (bool, error) {
	return m.db.Has(key)
}

// IsPaused implements the native/common pause view.
func (m *Manager) IsPaused(module string) bool {
	ok, err := m.hasMarker(pauseKey(module))
	if err != nil {
		return false
	}
	return ok
}

// SetPaused toggles a module pause switch.
func (m *Manager) SetPaused(module string, paused bool) error {
	if paused {
		return m.putMarker(pauseKey(module))
	}
	return m.db.Delete(pauseKey(module))
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import "github.com/bureau-foundation/gamefleet/adapter"

// Gate admits adapters before the manager connects them. Every connect
// the manager makes goes through it: Establish, SwitchMode, scheduled
// retries, and failure recovery alike. The connection pool installs
// itself as the gate so that its bound covers all of them.
//
// Both methods are called while the manager holds the server's lock and
// must not call back into the manager.
type Gate interface {
	// Admit reserves room for an adapter for server. An error refuses
	// the connect; a failure.Capacity error also ends the cascade.
	Admit(server string) error
	// Settle reports how an admitted connect ended. connected is nil
	// when it failed.
	Settle(server string, connected adapter.Adapter)
}

// SetGate installs gate. A nil gate admits everything.
func (m *Manager) SetGate(gate Gate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = gate
}

func (m *Manager) currentGate() Gate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gate
}

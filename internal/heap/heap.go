// Package heap implements the brk-style heap manager handed to the
// application thread: the heap's extent is fixed up front, and growth
// past it is refused with ENOMEM semantics rather than satisfied by
// remapping. The manager only tracks addresses; it does not reserve or
// map the heap's memory itself.
package heap

import "github.com/unikraft/app-elfloader/internal/elferr"

// Manager tracks the application program break within the Limit bytes
// starting at Base. It does not allocate or map that range.
type Manager struct {
	Base  uintptr
	Limit uintptr
	cur   uintptr
}

// NewManager creates a Manager whose break starts at base (the page
// immediately after the loaded program's end) and may grow up to
// base+limit.
func NewManager(base, limit uintptr) *Manager {
	return &Manager{Base: base, Limit: limit, cur: base}
}

// Current returns the current break address.
func (m *Manager) Current() uintptr { return m.cur }

// SetBrk attempts to move the break to addr. Shrinking succeeds down to
// Base; an address below Base is rejected, and growing past Base+Limit
// is refused.
func (m *Manager) SetBrk(addr uintptr) (uintptr, error) {
	if addr < m.Base {
		return m.cur, elferr.New(elferr.BadInvocation, "brk: requested address %#x precedes heap base %#x", addr, m.Base)
	}
	if addr > m.Base+m.Limit {
		return m.cur, elferr.New(elferr.ResourceExhausted, "brk: requested address %#x exceeds reserved heap limit %#x", addr, m.Base+m.Limit)
	}
	m.cur = addr
	return m.cur, nil
}

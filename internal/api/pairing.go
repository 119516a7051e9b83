package api

import "sync"

// PairingSlot holds the most recent pairing code. The transport lifecycle writes it
// and HTTP handlers read it concurrently.
type PairingSlot struct {
	mu   sync.RWMutex
	code string
}

// NewPairingSlot returns an empty slot.
func NewPairingSlot() *PairingSlot {
	return &PairingSlot{}
}

// Set replaces the stored code.
func (p *PairingSlot) Set(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.code = code
}

// Get returns the stored code and whether one is present.
func (p *PairingSlot) Get() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.code, p.code != ""
}

// Clear drops the stored code.
func (p *PairingSlot) Clear() {
	p.Set("")
}

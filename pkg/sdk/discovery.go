package sdk

import "os"

// DefaultAddr is where a local daemon listens.
const DefaultAddr = "localhost:7001"

// Addr returns CELERIX_ADDR, or DefaultAddr when unset.
func Addr() string {
	if addr := os.Getenv("CELERIX_ADDR"); addr != "" {
		return addr
	}
	return DefaultAddr
}

// New connects to the daemon at addr, or at Addr() when addr is empty.
// It returns the interface so callers can swap in fakes.
func New(addr string) (Presence, error) {
	if addr == "" {
		addr = Addr()
	}
	return Connect(addr)
}

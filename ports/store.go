package ports

// Store is a complete persistence backend
type Store interface {
	RegistryPort
	LedgerPort
	GateStore
}

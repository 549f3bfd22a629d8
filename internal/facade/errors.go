package facade

import "errors"

// Structural errors, surfaced synchronously from mutation calls. These
// always abort the mutation and leave the graph unchanged.
var (
	ErrNotFound             = errors.New("facade: not found")
	ErrUnknownProcessorType = errors.New("facade: unknown processor type")
	ErrTypeMismatch         = errors.New("facade: message type mismatch")
	ErrCycleWouldForm       = errors.New("facade: connecting these ports would form a cycle")
	ErrPortAlreadyConnected = errors.New("facade: input port already has an active link")
	ErrIncompatibleCapacity = errors.New("facade: incompatible capacity")
	ErrAlreadyRunning       = errors.New("facade: runtime already running")
	ErrNotRunning           = errors.New("facade: runtime not running")
	ErrNotManual            = errors.New("facade: node does not use manual discipline")
)

package services

import (
	"sync"

	"rillcall/internal/core/domain"
)

const (
	leaseOwnerCall = "call"
	leaseOwnerMesh = "mesh"
)

// DeviceLease allows a single capture owner per process, shared by the
// one-to-one and group call services.
type DeviceLease struct {
	mu    sync.Mutex
	owner string
}

func NewDeviceLease() *DeviceLease {
	return &DeviceLease{}
}

func (l *DeviceLease) Acquire(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner != "" {
		return domain.ErrSessionAlreadyActive
	}
	l.owner = owner
	return nil
}

// Release frees the lease if owner holds it.
func (l *DeviceLease) Release(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner == owner {
		l.owner = ""
	}
}

func (l *DeviceLease) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// Package discovery defines the consumed service-discovery contract. The
// binding never implements multicast discovery itself; it depends on an
// injected Interface and defines the wire encoding of the announcements a
// real implementation exchanges with peers over its (external) multicast
// transport.
package discovery

import (
	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/wire"
)

// FindHandler receives callbacks when a matching provided instance appears
// or disappears.
type FindHandler interface {
	OnFind(provided wire.ProvidedServiceInstanceID, address wire.IpcUnicastAddress, integrityLevel ipcsock.IntegrityLevel)
	OnStopFind(provided wire.ProvidedServiceInstanceID)
}

// Interface is the contract internal/binding depends on for service
// discovery. Production deployments inject a concrete implementation
// backed by an external multicast layer; a loopback implementation
// suitable for tests and single-process demos lives in loopback.go.
type Interface interface {
	// Offer announces provided as reachable at address with at least
	// integrityLevel. Offering the same provided instance twice without an
	// intervening StopOffer is a caller bug.
	Offer(provided wire.ProvidedServiceInstanceID, address wire.IpcUnicastAddress, integrityLevel ipcsock.IntegrityLevel) error

	// StopOffer withdraws a previously offered instance.
	StopOffer(provided wire.ProvidedServiceInstanceID) error

	// SubscribeFind registers h to be called whenever a provided instance
	// matching required appears or disappears, including instances already
	// known at subscription time.
	SubscribeFind(required wire.RequiredServiceInstanceID, h FindHandler) error

	// UnsubscribeFind reverses SubscribeFind.
	UnsubscribeFind(required wire.RequiredServiceInstanceID, h FindHandler) error
}

package discovery

import (
	"fmt"
	"sync"

	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/wire"
)

// Loopback is a same-process Interface implementation: offers and find
// subscriptions registered against one Loopback are visible to every other
// caller of the same Loopback, with announcements round-tripped through
// ServiceOfferAnnouncement.Marshal/Unmarshal to exercise the same codec a
// real multicast-backed implementation would use on the wire. It is the
// discovery analog of the socketpair-based loop transport: a same-process
// stand-in for the external implementation, suitable for tests,
// cmd/ipcbindctl, and single-process demos.
type Loopback struct {
	mu       sync.Mutex
	offers   map[wire.ProvidedServiceInstanceID]ServiceOfferAnnouncement
	findSubs map[wire.RequiredServiceInstanceID][]FindHandler
}

// NewLoopback constructs an empty Loopback registry.
func NewLoopback() *Loopback {
	return &Loopback{
		offers:   make(map[wire.ProvidedServiceInstanceID]ServiceOfferAnnouncement),
		findSubs: make(map[wire.RequiredServiceInstanceID][]FindHandler),
	}
}

// Offer implements Interface.
func (l *Loopback) Offer(provided wire.ProvidedServiceInstanceID, address wire.IpcUnicastAddress, integrityLevel ipcsock.IntegrityLevel) error {
	ann := ServiceOfferAnnouncement{Provided: provided, Address: address, IntegrityLevel: integrityLevel}
	resolved, err := roundTripOffer(ann)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if _, exists := l.offers[provided]; exists {
		l.mu.Unlock()
		return fmt.Errorf("discovery: %s already offered", provided)
	}
	l.offers[provided] = resolved
	matches := l.matchingHandlers(resolved.Provided)
	l.mu.Unlock()

	for _, h := range matches {
		h.OnFind(resolved.Provided, resolved.Address, resolved.IntegrityLevel)
	}
	return nil
}

// StopOffer implements Interface.
func (l *Loopback) StopOffer(provided wire.ProvidedServiceInstanceID) error {
	l.mu.Lock()
	ann, exists := l.offers[provided]
	if !exists {
		l.mu.Unlock()
		return fmt.Errorf("discovery: %s not offered", provided)
	}
	delete(l.offers, provided)
	matches := l.matchingHandlers(ann.Provided)
	l.mu.Unlock()

	for _, h := range matches {
		h.OnStopFind(provided)
	}
	return nil
}

// SubscribeFind implements Interface. Any provided instance already offered
// and matching required is announced to h immediately, synchronously,
// before SubscribeFind returns.
func (l *Loopback) SubscribeFind(required wire.RequiredServiceInstanceID, h FindHandler) error {
	l.mu.Lock()
	l.findSubs[required] = append(l.findSubs[required], h)
	var initial []ServiceOfferAnnouncement
	for _, ann := range l.offers {
		if required.Matches(ann.Provided) {
			initial = append(initial, ann)
		}
	}
	l.mu.Unlock()

	for _, ann := range initial {
		h.OnFind(ann.Provided, ann.Address, ann.IntegrityLevel)
	}
	return nil
}

// UnsubscribeFind implements Interface.
func (l *Loopback) UnsubscribeFind(required wire.RequiredServiceInstanceID, h FindHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	subs := l.findSubs[required]
	for i, cur := range subs {
		if cur == h {
			l.findSubs[required] = append(subs[:i], subs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("discovery: handler not subscribed to %s", required)
}

// matchingHandlers must be called with l.mu held.
func (l *Loopback) matchingHandlers(provided wire.ProvidedServiceInstanceID) []FindHandler {
	var out []FindHandler
	for required, handlers := range l.findSubs {
		if required.Matches(provided) {
			out = append(out, handlers...)
		}
	}
	return out
}

// roundTripOffer marshals and immediately unmarshals ann, so every
// announcement that passes through a Loopback is validated against the same
// codec a real multicast transport would use.
func roundTripOffer(ann ServiceOfferAnnouncement) (ServiceOfferAnnouncement, error) {
	b, err := ann.Marshal()
	if err != nil {
		return ServiceOfferAnnouncement{}, fmt.Errorf("discovery: marshal offer: %w", err)
	}
	var out ServiceOfferAnnouncement
	if err := out.Unmarshal(b); err != nil {
		return ServiceOfferAnnouncement{}, fmt.Errorf("discovery: unmarshal offer: %w", err)
	}
	return out, nil
}

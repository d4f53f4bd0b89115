// Package wire implements the on-the-wire framing for the binding: the
// 12-byte generic header, the per-message-type specific headers, the
// message-type enumeration, and the monotonic session counter used to
// correlate requests, responses and notifications.
//
// Everything in this package is pure data transformation. It never touches
// a socket and never blocks.
package wire

import "fmt"

// ServiceID identifies a service interface, independent of any particular
// provided instance of it.
type ServiceID uint32

// InstanceID identifies one provided instance of a ServiceID.
type InstanceID uint32

// MajorVersion is the major interface version of a service.
type MajorVersion uint32

// MinorVersion is the minor interface version of a service.
type MinorVersion uint32

// EventID identifies an event (including field notifiers) within a service.
type EventID uint32

// MethodID identifies a method within a service.
type MethodID uint32

// ClientID identifies one proxy object among possibly several proxies bound
// to the same ProvidedServiceInstanceID.
type ClientID uint32

// SessionID is a per-producer monotonically advancing correlation number.
// The value 0 is reserved and is never transmitted by a conforming
// producer; see SessionHandler.
type SessionID uint32

// ConnectionID uniquely identifies a SkeletonConnection within this
// process, for as long as the process runs.
type ConnectionID uint32

// InstanceIDWildcard matches any InstanceID in a RequiredServiceInstanceID.
const InstanceIDWildcard InstanceID = 0xFFFFFFFF

// ProvidedServiceInstanceID is the fully qualified identifier of a concrete,
// offered service endpoint. It is totally ordered by (Service, Instance,
// Major, Minor).
type ProvidedServiceInstanceID struct {
	Service  ServiceID
	Instance InstanceID
	Major    MajorVersion
	Minor    MinorVersion
}

// String renders the human/config-readable form
// "IpcBinding:<service_id>:<instance_id>:<major>:<minor>".
func (p ProvidedServiceInstanceID) String() string {
	return fmt.Sprintf("IpcBinding:%d:%d:%d:%d", p.Service, p.Instance, p.Major, p.Minor)
}

// WireKey returns the identity a wire header can actually carry: the
// (Service, Instance, Major) triple, with Minor cleared. Every specific
// header on the wire names an instance by this triple only, so routing
// tables key their entries by WireKey, not by the full four-field id; two
// offered instances differing only in Minor would be indistinguishable to
// a peer and are rejected at registration.
func (p ProvidedServiceInstanceID) WireKey() ProvidedServiceInstanceID {
	p.Minor = 0
	return p
}

// Less imposes the total order over ProvidedServiceInstanceID required by
// the data model: (Service, Instance, Major, Minor) lexicographic.
func (p ProvidedServiceInstanceID) Less(o ProvidedServiceInstanceID) bool {
	if p.Service != o.Service {
		return p.Service < o.Service
	}
	if p.Instance != o.Instance {
		return p.Instance < o.Instance
	}
	if p.Major != o.Major {
		return p.Major < o.Major
	}
	return p.Minor < o.Minor
}

// RequiredServiceInstanceID describes what a consumer wants. InstanceID may
// be InstanceIDWildcard, in which case it matches any provided instance
// with equal Service/Major/Minor.
type RequiredServiceInstanceID struct {
	Service  ServiceID
	Major    MajorVersion
	Minor    MinorVersion
	Instance InstanceID
}

// Matches reports whether a concrete ProvidedServiceInstanceID satisfies
// this requirement.
func (r RequiredServiceInstanceID) Matches(p ProvidedServiceInstanceID) bool {
	if r.Service != p.Service || r.Major != p.Major || r.Minor != p.Minor {
		return false
	}
	return r.Instance == InstanceIDWildcard || r.Instance == p.Instance
}

func (r RequiredServiceInstanceID) String() string {
	if r.Instance == InstanceIDWildcard {
		return fmt.Sprintf("IpcBinding:%d:*:%d:%d", r.Service, r.Major, r.Minor)
	}
	return fmt.Sprintf("IpcBinding:%d:%d:%d:%d", r.Service, r.Instance, r.Major, r.Minor)
}

// IpcUnicastAddress is an opaque local-endpoint identifier: a (domain, port)
// pair that is comparable for equality and totally ordered.
type IpcUnicastAddress struct {
	Domain uint32
	Port   uint32
}

func (a IpcUnicastAddress) String() string {
	return fmt.Sprintf("%d.%d", a.Domain, a.Port)
}

// Less imposes a total order over IpcUnicastAddress, keyed first by Domain
// then by Port.
func (a IpcUnicastAddress) Less(o IpcUnicastAddress) bool {
	if a.Domain != o.Domain {
		return a.Domain < o.Domain
	}
	return a.Port < o.Port
}

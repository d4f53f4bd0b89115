package discovery

import (
	"testing"

	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/wire"
)

func TestServiceOfferAnnouncementRoundTrip(t *testing.T) {
	ann := ServiceOfferAnnouncement{
		Provided:       wire.ProvidedServiceInstanceID{Service: 7, Instance: 3, Major: 1, Minor: 2},
		Address:        wire.IpcUnicastAddress{Domain: 10, Port: 1000},
		IntegrityLevel: ipcsock.IntegrityLevelHigh,
	}
	b, err := ann.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out ServiceOfferAnnouncement
	if err := out.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != ann {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, ann)
	}
}

func TestServiceFindAnnouncementRoundTrip(t *testing.T) {
	f := ServiceFindAnnouncement{Required: wire.RequiredServiceInstanceID{Service: 7, Instance: wire.InstanceIDWildcard, Major: 1}}
	b, err := f.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out ServiceFindAnnouncement
	if err := out.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != f {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, f)
	}
}

type recordingFindHandler struct {
	found     []wire.ProvidedServiceInstanceID
	stopFound []wire.ProvidedServiceInstanceID
}

func (r *recordingFindHandler) OnFind(provided wire.ProvidedServiceInstanceID, address wire.IpcUnicastAddress, integrityLevel ipcsock.IntegrityLevel) {
	r.found = append(r.found, provided)
}

func (r *recordingFindHandler) OnStopFind(provided wire.ProvidedServiceInstanceID) {
	r.stopFound = append(r.stopFound, provided)
}

func TestLoopbackSubscribeBeforeOffer(t *testing.T) {
	l := NewLoopback()
	required := wire.RequiredServiceInstanceID{Service: 7, Instance: wire.InstanceIDWildcard, Major: 1}
	h := &recordingFindHandler{}
	if err := l.SubscribeFind(required, h); err != nil {
		t.Fatalf("SubscribeFind: %v", err)
	}

	provided := wire.ProvidedServiceInstanceID{Service: 7, Instance: 3, Major: 1}
	if err := l.Offer(provided, wire.IpcUnicastAddress{Domain: 1, Port: 1}, ipcsock.IntegrityLevelMedium); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if len(h.found) != 1 || h.found[0] != provided {
		t.Fatalf("expected OnFind(%s), got %v", provided, h.found)
	}

	if err := l.StopOffer(provided); err != nil {
		t.Fatalf("StopOffer: %v", err)
	}
	if len(h.stopFound) != 1 || h.stopFound[0] != provided {
		t.Fatalf("expected OnStopFind(%s), got %v", provided, h.stopFound)
	}
}

func TestLoopbackSubscribeAfterOfferReplaysExisting(t *testing.T) {
	l := NewLoopback()
	provided := wire.ProvidedServiceInstanceID{Service: 7, Instance: 3, Major: 1}
	if err := l.Offer(provided, wire.IpcUnicastAddress{Domain: 1, Port: 1}, ipcsock.IntegrityLevelMedium); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	required := wire.RequiredServiceInstanceID{Service: 7, Instance: wire.InstanceIDWildcard, Major: 1}
	h := &recordingFindHandler{}
	if err := l.SubscribeFind(required, h); err != nil {
		t.Fatalf("SubscribeFind: %v", err)
	}
	if len(h.found) != 1 || h.found[0] != provided {
		t.Fatalf("expected immediate replay of existing offer, got %v", h.found)
	}
}

func TestLoopbackDuplicateOfferFails(t *testing.T) {
	l := NewLoopback()
	provided := wire.ProvidedServiceInstanceID{Service: 7, Instance: 3, Major: 1}
	if err := l.Offer(provided, wire.IpcUnicastAddress{Domain: 1, Port: 1}, ipcsock.IntegrityLevelMedium); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if err := l.Offer(provided, wire.IpcUnicastAddress{Domain: 1, Port: 1}, ipcsock.IntegrityLevelMedium); err == nil {
		t.Fatal("expected duplicate Offer to fail")
	}
}

func TestLoopbackUnsubscribeFind(t *testing.T) {
	l := NewLoopback()
	required := wire.RequiredServiceInstanceID{Service: 7, Instance: wire.InstanceIDWildcard, Major: 1}
	h := &recordingFindHandler{}
	if err := l.SubscribeFind(required, h); err != nil {
		t.Fatalf("SubscribeFind: %v", err)
	}
	if err := l.UnsubscribeFind(required, h); err != nil {
		t.Fatalf("UnsubscribeFind: %v", err)
	}

	provided := wire.ProvidedServiceInstanceID{Service: 7, Instance: 3, Major: 1}
	if err := l.Offer(provided, wire.IpcUnicastAddress{Domain: 1, Port: 1}, ipcsock.IntegrityLevelMedium); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if len(h.found) != 0 {
		t.Fatalf("expected no OnFind after unsubscribe, got %v", h.found)
	}
}

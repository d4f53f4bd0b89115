package discovery

import (
	"fmt"

	"github.com/golang/protobuf/proto"

	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/wire"
)

// pbServiceOfferAnnouncement is the protobuf wire shape of an offer
// announcement. The announcements have no external .proto source to
// generate from, so the legacy reflection-based proto.Message shape is
// written directly here.
type pbServiceOfferAnnouncement struct {
	ServiceId       uint32 `protobuf:"varint,1,opt,name=service_id,json=serviceId,proto3" json:"service_id,omitempty"`
	InstanceId      uint32 `protobuf:"varint,2,opt,name=instance_id,json=instanceId,proto3" json:"instance_id,omitempty"`
	MajorVersion    uint32 `protobuf:"varint,3,opt,name=major_version,json=majorVersion,proto3" json:"major_version,omitempty"`
	MinorVersion    uint32 `protobuf:"varint,4,opt,name=minor_version,json=minorVersion,proto3" json:"minor_version,omitempty"`
	AddressDomain   uint32 `protobuf:"varint,5,opt,name=address_domain,json=addressDomain,proto3" json:"address_domain,omitempty"`
	AddressPort     uint32 `protobuf:"varint,6,opt,name=address_port,json=addressPort,proto3" json:"address_port,omitempty"`
	IntegrityLevel  uint32 `protobuf:"varint,7,opt,name=integrity_level,json=integrityLevel,proto3" json:"integrity_level,omitempty"`
	Withdrawn       bool   `protobuf:"varint,8,opt,name=withdrawn,proto3" json:"withdrawn,omitempty"`
}

func (m *pbServiceOfferAnnouncement) Reset()         { *m = pbServiceOfferAnnouncement{} }
func (m *pbServiceOfferAnnouncement) String() string { return fmt.Sprintf("%+v", *m) }
func (*pbServiceOfferAnnouncement) ProtoMessage()    {}

// pbServiceFindAnnouncement is the protobuf wire shape of a find-subscription
// announcement (a consumer broadcasting what it is looking for, mirroring
// the offer side above).
type pbServiceFindAnnouncement struct {
	ServiceId    uint32 `protobuf:"varint,1,opt,name=service_id,json=serviceId,proto3" json:"service_id,omitempty"`
	InstanceId   uint32 `protobuf:"varint,2,opt,name=instance_id,json=instanceId,proto3" json:"instance_id,omitempty"`
	MajorVersion uint32 `protobuf:"varint,3,opt,name=major_version,json=majorVersion,proto3" json:"major_version,omitempty"`
	MinorVersion uint32 `protobuf:"varint,4,opt,name=minor_version,json=minorVersion,proto3" json:"minor_version,omitempty"`
}

func (m *pbServiceFindAnnouncement) Reset()         { *m = pbServiceFindAnnouncement{} }
func (m *pbServiceFindAnnouncement) String() string { return fmt.Sprintf("%+v", *m) }
func (*pbServiceFindAnnouncement) ProtoMessage()    {}

// ServiceOfferAnnouncement is the in-process representation of an offer
// (or withdrawal) exchanged with peers via the external multicast
// discovery layer. Withdrawn distinguishes an Offer from a StopOffer of
// the same ProvidedServiceInstanceID.
type ServiceOfferAnnouncement struct {
	Provided       wire.ProvidedServiceInstanceID
	Address        wire.IpcUnicastAddress
	IntegrityLevel ipcsock.IntegrityLevel
	Withdrawn      bool
}

// Marshal serializes a into protobuf bytes.
func (a *ServiceOfferAnnouncement) Marshal() ([]byte, error) {
	pb := &pbServiceOfferAnnouncement{
		ServiceId:      uint32(a.Provided.Service),
		InstanceId:     uint32(a.Provided.Instance),
		MajorVersion:   uint32(a.Provided.Major),
		MinorVersion:   uint32(a.Provided.Minor),
		AddressDomain:  a.Address.Domain,
		AddressPort:    a.Address.Port,
		IntegrityLevel: uint32(a.IntegrityLevel),
		Withdrawn:      a.Withdrawn,
	}
	return proto.Marshal(pb)
}

// Unmarshal unserializes a ServiceOfferAnnouncement from protobuf bytes.
func (a *ServiceOfferAnnouncement) Unmarshal(b []byte) error {
	pb := &pbServiceOfferAnnouncement{}
	if err := proto.Unmarshal(b, pb); err != nil {
		return fmt.Errorf("invalid protobuf data for ServiceOfferAnnouncement: %w", err)
	}
	a.Provided = wire.ProvidedServiceInstanceID{
		Service:  wire.ServiceID(pb.ServiceId),
		Instance: wire.InstanceID(pb.InstanceId),
		Major:    wire.MajorVersion(pb.MajorVersion),
		Minor:    wire.MinorVersion(pb.MinorVersion),
	}
	a.Address = wire.IpcUnicastAddress{Domain: pb.AddressDomain, Port: pb.AddressPort}
	a.IntegrityLevel = ipcsock.IntegrityLevel(pb.IntegrityLevel)
	a.Withdrawn = pb.Withdrawn
	return nil
}

// ServiceFindAnnouncement is the in-process representation of a find
// subscription broadcast over the external discovery layer.
type ServiceFindAnnouncement struct {
	Required wire.RequiredServiceInstanceID
}

// Marshal serializes f into protobuf bytes.
func (f *ServiceFindAnnouncement) Marshal() ([]byte, error) {
	pb := &pbServiceFindAnnouncement{
		ServiceId:    uint32(f.Required.Service),
		InstanceId:   uint32(f.Required.Instance),
		MajorVersion: uint32(f.Required.Major),
		MinorVersion: uint32(f.Required.Minor),
	}
	return proto.Marshal(pb)
}

// Unmarshal unserializes a ServiceFindAnnouncement from protobuf bytes.
func (f *ServiceFindAnnouncement) Unmarshal(b []byte) error {
	pb := &pbServiceFindAnnouncement{}
	if err := proto.Unmarshal(b, pb); err != nil {
		return fmt.Errorf("invalid protobuf data for ServiceFindAnnouncement: %w", err)
	}
	f.Required = wire.RequiredServiceInstanceID{
		Service:  wire.ServiceID(pb.ServiceId),
		Instance: wire.InstanceID(pb.InstanceId),
		Major:    wire.MajorVersion(pb.MajorVersion),
		Minor:    wire.MinorVersion(pb.MinorVersion),
	}
	return nil
}

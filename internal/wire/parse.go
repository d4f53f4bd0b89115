package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxInstanceValue is the largest legal ServiceID/InstanceID value in the
// string form of a ProvidedServiceInstanceID: 0..0xFFFF_FFFE. The top value
// is reserved for the instance wildcard.
const MaxInstanceValue = 0xFFFFFFFE

// ParseProvidedServiceInstanceID parses the human/config-readable form
// "IpcBinding:<service_id>:<instance_id>:<major>:<minor>". Any other prefix
// or an id outside 0..=0xFFFF_FFFE is a configuration error, returned to
// the caller (internal/config's Validate, or cmd/ipcbindctl's commands,
// which print it).
func ParseProvidedServiceInstanceID(s string) (ProvidedServiceInstanceID, error) {
	const prefix = "IpcBinding:"
	if !strings.HasPrefix(s, prefix) {
		return ProvidedServiceInstanceID{}, fmt.Errorf("wire: provided instance id %q: missing %q prefix", s, prefix)
	}
	parts := strings.Split(s[len(prefix):], ":")
	if len(parts) != 4 {
		return ProvidedServiceInstanceID{}, fmt.Errorf("wire: provided instance id %q: expected 4 fields after prefix, got %d", s, len(parts))
	}
	nums := make([]uint64, 4)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return ProvidedServiceInstanceID{}, fmt.Errorf("wire: provided instance id %q: field %d not a decimal u32: %w", s, i, err)
		}
		nums[i] = n
	}
	if nums[0] > MaxInstanceValue || nums[1] > MaxInstanceValue {
		return ProvidedServiceInstanceID{}, fmt.Errorf("wire: provided instance id %q: service/instance out of range 0..=0x%x", s, MaxInstanceValue)
	}
	return ProvidedServiceInstanceID{
		Service:  ServiceID(nums[0]),
		Instance: InstanceID(nums[1]),
		Major:    MajorVersion(nums[2]),
		Minor:    MinorVersion(nums[3]),
	}, nil
}

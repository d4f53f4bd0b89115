// Package config defines the runtime configuration a process loads before
// constructing its binding, and a directory watcher that republishes
// snapshots when the file changes on disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/wire"
)

// OfferedInstance is one entry of RuntimeConfig.Offers: a service instance
// this process should offer at startup, and the address/integrity floor to
// offer it at.
type OfferedInstance struct {
	// Provided is the "IpcBinding:<service>:<instance>:<major>:<minor>"
	// string form, parsed by Validate.
	Provided string `json:"provided"`
	Domain   uint32 `json:"domain"`
	Port     uint32 `json:"port"`
	// Integrity is one of "untrusted", "low", "medium", "high", "system"
	// (case-insensitive); see ParseIntegrityLevel.
	Integrity string `json:"integrity"`
}

// RuntimeConfig is the JSON-loadable configuration a binding instance is
// constructed from: the set of service instances to offer and the base
// directory for Unix domain sockets. Required-service resolution is driven
// entirely by the injected service-discovery implementation and has no
// static config here.
type RuntimeConfig struct {
	BaseDir string            `json:"base_dir"`
	Offers  []OfferedInstance `json:"offers"`
}

// ResolvedOffer is an OfferedInstance after Validate has parsed its string
// fields into wire/ipcsock types.
type ResolvedOffer struct {
	Provided  wire.ProvidedServiceInstanceID
	Address   wire.IpcUnicastAddress
	Integrity ipcsock.IntegrityLevel
}

// ParseIntegrityLevel maps a config string to an ipcsock.IntegrityLevel.
func ParseIntegrityLevel(s string) (ipcsock.IntegrityLevel, error) {
	switch strings.ToLower(s) {
	case "untrusted":
		return ipcsock.IntegrityLevelUntrusted, nil
	case "low":
		return ipcsock.IntegrityLevelLow, nil
	case "medium", "":
		return ipcsock.IntegrityLevelMedium, nil
	case "high":
		return ipcsock.IntegrityLevelHigh, nil
	case "system":
		return ipcsock.IntegrityLevelSystem, nil
	default:
		return 0, fmt.Errorf("config: unrecognized integrity level %q", s)
	}
}

// Load reads and JSON-decodes a RuntimeConfig from path. The two error
// classes surfaced are json_loading_failure (the read itself) and
// json_parsing_failure (malformed JSON).
func Load(path string) (*RuntimeConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: json_loading_failure: %w", err)
	}
	var cfg RuntimeConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: json_parsing_failure: %w", err)
	}
	return &cfg, nil
}

// Validate parses every OfferedInstance's string fields, returning the
// list of ResolvedOffer or the first parse error encountered. A malformed
// provided-instance string is a fatal configuration error; Validate
// reports it rather than terminating the process itself, leaving that
// decision to the caller.
func (c *RuntimeConfig) Validate() ([]ResolvedOffer, error) {
	out := make([]ResolvedOffer, 0, len(c.Offers))
	for _, o := range c.Offers {
		provided, err := wire.ParseProvidedServiceInstanceID(o.Provided)
		if err != nil {
			return nil, err
		}
		integrity, err := ParseIntegrityLevel(o.Integrity)
		if err != nil {
			return nil, err
		}
		out = append(out, ResolvedOffer{
			Provided:  provided,
			Address:   wire.IpcUnicastAddress{Domain: o.Domain, Port: o.Port},
			Integrity: integrity,
		})
	}
	return out, nil
}

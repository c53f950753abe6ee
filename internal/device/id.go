// Package device derives the stable identity a panel announces itself with.
package device

import (
	"fmt"
	"hash/fnv"
	"net"
	"os"
)

// ID returns name followed by six uppercase hex digits unique to this host,
// e.g. "buttons-0A1B2C". The digits come from the first non-loopback
// hardware address, falling back to a hash of the hostname.
func ID(name string) string {
	return Format(name, hardwareSuffix())
}

// Format builds an identity from a name and the low 24 bits of suffix.
func Format(name string, suffix uint32) string {
	return fmt.Sprintf("%s-%06X", name, suffix&0xFFFFFF)
}

// FromHardwareAddr returns the low 24 bits of a hardware address.
// ok is false for addresses shorter than three bytes.
func FromHardwareAddr(mac net.HardwareAddr) (uint32, bool) {
	if len(mac) < 3 {
		return 0, false
	}
	n := len(mac)
	return uint32(mac[n-3])<<16 | uint32(mac[n-2])<<8 | uint32(mac[n-1]), true
}

// FromHostname hashes a hostname into 24 bits.
func FromHostname(host string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(host))
	return h.Sum32() & 0xFFFFFF
}

func hardwareSuffix() uint32 {
	ifaces, err := net.Interfaces()
	if err == nil {
		if v, ok := firstHardware(ifaces); ok {
			return v
		}
	}
	host, _ := os.Hostname()
	return FromHostname(host)
}

func firstHardware(ifaces []net.Interface) (uint32, bool) {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if v, ok := FromHardwareAddr(iface.HardwareAddr); ok && v != 0 {
			return v, true
		}
	}
	return 0, false
}

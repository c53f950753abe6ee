package device

import (
	"net"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "buttons-0A1B2C", Format("buttons", 0x0A1B2C))
	assert.Equal(t, "buttons-000001", Format("buttons", 1))
	assert.Equal(t, "panel-FFFFFF", Format("panel", 0xFFFFFFFF), "only the low 24 bits are used")
}

func TestFromHardwareAddr(t *testing.T) {
	mac, err := net.ParseMAC("b8:27:eb:0a:1b:2c")
	assert.NoError(t, err)

	v, ok := FromHardwareAddr(mac)
	assert.True(t, ok)
	assert.Equal(t, uint32(0x0A1B2C), v)

	_, ok = FromHardwareAddr(nil)
	assert.False(t, ok)
}

func TestFromHostnameStable(t *testing.T) {
	a := FromHostname("pi-panel")
	assert.Equal(t, a, FromHostname("pi-panel"))
	assert.LessOrEqual(t, a, uint32(0xFFFFFF))
	assert.NotEqual(t, a, FromHostname("pi-panel-2"))
}

func TestFirstHardwareSkipsLoopbackAndEmpty(t *testing.T) {
	eth, _ := net.ParseMAC("dc:a6:32:11:22:33")
	lo, _ := net.ParseMAC("00:00:00:00:00:01")
	ifaces := []net.Interface{
		{Name: "lo", Flags: net.FlagLoopback, HardwareAddr: lo},
		{Name: "tun0"},
		{Name: "eth0", HardwareAddr: eth},
	}

	v, ok := firstHardware(ifaces)
	assert.True(t, ok)
	assert.Equal(t, uint32(0x112233), v)

	_, ok = firstHardware(ifaces[:2])
	assert.False(t, ok)
}

func TestIDShape(t *testing.T) {
	id := ID("buttons")
	assert.True(t, strings.HasPrefix(id, "buttons-"))
	assert.Regexp(t, regexp.MustCompile(`^buttons-[0-9A-F]{6}$`), id)
}

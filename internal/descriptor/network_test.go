package descriptor

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/standctl/internal/domain"
)

func TestNewNetwork_DHCP(t *testing.T) {
	xml, err := NewNetwork(domain.Network{
		Name:    "lab-net",
		CIDR:    netip.MustParsePrefix("10.20.0.0/22"),
		DHCP:    true,
		Managed: true,
	})
	require.NoError(t, err)

	assert.Contains(t, xml, "<name>lab-net</name>")
	assert.Contains(t, xml, `<forward mode="nat"/>`)
	assert.Contains(t, xml, `<ip address="10.20.0.1" netmask="255.255.252.0">`)
	assert.Contains(t, xml, `<range start="10.20.0.10" end="10.20.0.100"/>`)
}

func TestNewNetwork_NoDHCP(t *testing.T) {
	xml, err := NewNetwork(domain.Network{
		Name:    "lab-net",
		CIDR:    netip.MustParsePrefix("192.168.4.0/24"),
		DHCP:    false,
		Managed: true,
	})
	require.NoError(t, err)

	assert.Contains(t, xml, `<ip address="192.168.4.1" netmask="255.255.255.0">`)
	assert.NotContains(t, xml, "<dhcp>")
}

func TestNewNetwork_Dummy(t *testing.T) {
	_, err := NewNetwork(domain.DummyNetwork())
	assert.Error(t, err)
}

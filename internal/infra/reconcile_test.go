package infra

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func domainXML(name, meta string) string {
	return fmt.Sprintf(`<domain type="kvm">
  <name>%s</name>
  <metadata>
    <standctl:standctl xmlns:standctl="https://github.com/jbweber/homelab/standctl">
%s
    </standctl:standctl>
  </metadata>
</domain>`, name, meta)
}

func bootstrapXML(name, stand string) string {
	return domainXML(name, `      <standctl:stand>`+stand+`</standctl:stand>
      <standctl:node_type>bootstrap</standctl:node_type>
      <standctl:vcpu>2</standctl:vcpu>
      <standctl:mem>4096</standctl:mem>
      <standctl:image>/img/base.qcow2</standctl:image>
      <standctl:network cidr="10.20.0.0/22" managed_network="1" dhcp="1">lab-net</standctl:network>`)
}

func baremetalXML(name, stand string) string {
	return domainXML(name, `      <standctl:stand>`+stand+`</standctl:stand>
      <standctl:node_type>baremetal</standctl:node_type>
      <standctl:vcpu>4</standctl:vcpu>
      <standctl:mem>8192</standctl:mem>`)
}

func TestListStands_GroupsByStand(t *testing.T) {
	hv := newFakeHypervisor()
	hv.domains["alpha-bootstrap"] = bootstrapXML("alpha-bootstrap", "alpha")
	hv.domains["alpha-bm-0"] = baremetalXML("alpha-bm-0", "alpha")
	hv.domains["beta-bootstrap"] = bootstrapXML("beta-bootstrap", "beta")
	driver := New(hv, "", nil)

	stands, err := driver.ListStands(context.Background())
	require.NoError(t, err)
	require.Len(t, stands, 2)

	byName := map[string]int{}
	for i, s := range stands {
		byName[s.Name] = i
	}
	require.Contains(t, byName, "alpha")
	require.Contains(t, byName, "beta")

	alpha := stands[byName["alpha"]]
	assert.Len(t, alpha.Bootstraps, 1)
	assert.Len(t, alpha.Baremetals, 1)
	assert.Equal(t, "alpha-bm-0", alpha.Baremetals[0].Name)
	assert.Equal(t, 8192, alpha.Baremetals[0].Memory)
	assert.Equal(t, "lab-net", alpha.Network.Name)

	beta := stands[byName["beta"]]
	assert.Len(t, beta.Bootstraps, 1)
	assert.Empty(t, beta.Baremetals)
}

func TestListStands_SkipsUnmanagedDomains(t *testing.T) {
	hv := newFakeHypervisor()
	hv.domains["my-desktop-vm"] = `<domain type="kvm"><name>my-desktop-vm</name></domain>`
	hv.domains["alpha-bootstrap"] = bootstrapXML("alpha-bootstrap", "alpha")
	driver := New(hv, "", nil)

	stands, err := driver.ListStands(context.Background())
	require.NoError(t, err)
	require.Len(t, stands, 1)
	assert.Equal(t, "alpha", stands[0].Name)
}

func TestListStands_QuarantinesMalformedNode(t *testing.T) {
	hv := newFakeHypervisor()
	hv.domains["alpha-bootstrap"] = bootstrapXML("alpha-bootstrap", "alpha")
	hv.domains["alpha-bm-0"] = domainXML("alpha-bm-0", `      <standctl:stand>alpha</standctl:stand>
      <standctl:node_type>baremetal</standctl:node_type>
      <standctl:vcpu>many</standctl:vcpu>
      <standctl:mem>8192</standctl:mem>`)
	driver := New(hv, "", nil)

	stands, err := driver.ListStands(context.Background())
	require.NoError(t, err)
	require.Len(t, stands, 1)

	alpha := stands[0]
	assert.Empty(t, alpha.Baremetals)
	assert.Equal(t, []string{"alpha-bm-0"}, alpha.Quarantined)
	// The intact bootstrap still decodes
	assert.Len(t, alpha.Bootstraps, 1)
}

func TestListStands_QuarantinesBootstrapWithoutNetwork(t *testing.T) {
	hv := newFakeHypervisor()
	hv.domains["alpha-bootstrap"] = domainXML("alpha-bootstrap", `      <standctl:stand>alpha</standctl:stand>
      <standctl:node_type>bootstrap</standctl:node_type>
      <standctl:vcpu>2</standctl:vcpu>
      <standctl:mem>4096</standctl:mem>`)
	driver := New(hv, "", nil)

	stands, err := driver.ListStands(context.Background())
	require.NoError(t, err)
	require.Len(t, stands, 1)
	assert.Empty(t, stands[0].Bootstraps)
	assert.Equal(t, []string{"alpha-bootstrap"}, stands[0].Quarantined)
}

func TestListStands_QuarantinesMissingNodeType(t *testing.T) {
	hv := newFakeHypervisor()
	hv.domains["alpha-orphan"] = domainXML("alpha-orphan", `      <standctl:stand>alpha</standctl:stand>`)
	driver := New(hv, "", nil)

	stands, err := driver.ListStands(context.Background())
	require.NoError(t, err)
	require.Len(t, stands, 1)
	assert.Equal(t, []string{"alpha-orphan"}, stands[0].Quarantined)
}

func TestListStands_UnknownNodeTypeFails(t *testing.T) {
	hv := newFakeHypervisor()
	hv.domains["alpha-x"] = domainXML("alpha-x", `      <standctl:stand>alpha</standctl:stand>
      <standctl:node_type>mainframe</standctl:node_type>`)
	driver := New(hv, "", nil)

	_, err := driver.ListStands(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownNodeType)
	assert.Contains(t, err.Error(), "mainframe")
}

func TestGetStand(t *testing.T) {
	hv := newFakeHypervisor()
	hv.domains["alpha-bootstrap"] = bootstrapXML("alpha-bootstrap", "alpha")
	driver := New(hv, "", nil)
	ctx := context.Background()

	stand, err := driver.GetStand(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, stand)
	assert.Equal(t, "alpha", stand.Name)

	missing, err := driver.GetStand(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestParseDomainDoc_BadXML(t *testing.T) {
	_, err := parseDomainDoc("<domain")
	assert.Error(t, err)
}

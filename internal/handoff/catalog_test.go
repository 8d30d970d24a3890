package handoff

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogLookups(t *testing.T) {
	c := DefaultCatalog()

	agent, ok := c.RecommendedAgent("order_status")
	require.True(t, ok)
	assert.Equal(t, AgentOrderSupport, agent)

	agent, ok = c.RecommendedAgent(" Product_Question ")
	require.True(t, ok)
	assert.Equal(t, AgentProductQA, agent)

	_, ok = c.RecommendedAgent("weather")
	assert.False(t, ok)

	assert.True(t, c.HasCapability(AgentOrderSupport, "refund_processing"))
	assert.False(t, c.HasCapability(AgentOrderSupport, "inventory_check"))
	assert.False(t, c.HasCapability("Nobody", "refund_processing"))
	assert.Len(t, c.Agents(), 3)
}

func TestLoadCatalogOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	doc := `
agents:
  - name: Wholesale
    description: Bulk buyers
    capabilities: [bulk_quote, net_terms]
  - name: Product Q&A
    capabilities: [product_info]
intents:
  bulk_order: Wholesale
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	agent, ok := c.RecommendedAgent("bulk_order")
	require.True(t, ok)
	assert.Equal(t, "Wholesale", agent)
	assert.True(t, c.HasCapability("Wholesale", "net_terms"))
	assert.False(t, c.HasCapability(AgentProductQA, "inventory_check"), "overlay replaces capabilities")
	assert.True(t, c.HasCapability(AgentOrderSupport, "order_lookup"), "built-ins survive")
}

func TestLoadCatalogErrors(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	c := DefaultCatalog()
	assert.Error(t, c.Merge([]byte("intents:\n  foo: Ghost\n")))
	assert.Error(t, c.Merge([]byte("agents:\n  - capabilities: [x]\n")))
	assert.Error(t, c.Merge([]byte("agents: [")))

	c, err = LoadCatalog("")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

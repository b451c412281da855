package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogLookupsAreCaseInsensitive(t *testing.T) {
	holder := NewStaticCatalogHolder(Catalog{
		Products: map[string]string{"VPS-Basic": " 7 "},
		PaymentMethods: map[string]PaymentMethodProfile{
			"Card": {Provider: "GoPay", Instrument: "PAYMENT_CARD"},
		},
	})

	cat := holder.Get()
	id, ok := cat.ProductID(" vps-basic ")
	require.True(t, ok)
	assert.Equal(t, "7", id)

	id, ok = cat.ProductID("VPS Basic")
	require.True(t, ok)
	assert.Equal(t, "7", id)

	profile, ok := cat.Method("CARD")
	require.True(t, ok)
	assert.Equal(t, "gopay", profile.Provider)

	_, ok = cat.ProductID("unknown")
	assert.False(t, ok)
}

func TestValidateCatalog(t *testing.T) {
	assert.NoError(t, validateCatalog(normalizeCatalog(DefaultCatalog())))
	assert.Error(t, validateCatalog(Catalog{}))
	assert.Error(t, validateCatalog(Catalog{
		Products:       map[string]string{"a": "1"},
		PaymentMethods: map[string]PaymentMethodProfile{"card": {}},
	}))
}

func TestNormalizeStore(t *testing.T) {
	assert.Equal(t, SettlementStoreDatabase, normalizeStore("Postgres"))
	assert.Equal(t, SettlementStoreRedis, normalizeStore(" redis "))
	assert.Equal(t, SettlementStoreMemory, normalizeStore("bogus"))
}

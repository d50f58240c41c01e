package domain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bankingSchema = `{
  "domain_name": "Banking",
  "domain_description": "Retail banking customers, accounts and transactions",
  "tables": [
    {
      "name": "customers",
      "description": "Bank customers",
      "pk": "customer_id",
      "columns": {
        "customer_id": "Unique customer identifier",
        "age": "Customer age in years",
        "region": "Home region"
      }
    },
    {
      "name": "accounts",
      "description": "Customer accounts",
      "pk": "account_id",
      "fk": "customer_id",
      "columns": {
        "account_id": "Unique account identifier",
        "customer_id": "Owning customer",
        "balance": "Current balance"
      }
    },
    {
      "name": "transactions",
      "description": "Account transactions",
      "pk": "transaction_id",
      "fk": ["account_id", "customer_id"],
      "columns": {
        "transaction_id": "Unique transaction identifier",
        "account_id": "Source account",
        "amount": "Transaction amount"
      }
    }
  ]
}`

// writeTestSchema creates metadata/<domain>/_schema.json under a temp dir
// and returns the provider config pointing at it.
func writeTestSchema(t *testing.T, domain, schema string) Config {
	t.Helper()
	root := t.TempDir()
	metadataDir := filepath.Join(root, "metadata")
	dataDir := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(filepath.Join(metadataDir, domain), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(metadataDir, domain, "_schema.json"), []byte(schema), 0o644))
	return Config{MetadataDir: metadataDir, DataDir: dataDir}
}

func TestLoad(t *testing.T) {
	t.Run("parses schema", func(t *testing.T) {
		cfg := writeTestSchema(t, "banking", bankingSchema)

		p, err := Load(cfg, "banking")
		require.NoError(t, err)
		assert.Equal(t, "banking", p.Name())
		assert.Equal(t, "Banking", p.DisplayName())
		assert.Equal(t, []string{"customers", "accounts", "transactions"}, p.TableNames())
	})

	t.Run("missing schema file", func(t *testing.T) {
		cfg := writeTestSchema(t, "banking", bankingSchema)

		_, err := Load(cfg, "hospital")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hospital")
	})

	t.Run("empty domain name", func(t *testing.T) {
		_, err := Load(Config{}, "")
		assert.Error(t, err)
	})

	t.Run("schema without tables", func(t *testing.T) {
		cfg := writeTestSchema(t, "empty", `{"domain_name":"Empty","tables":[]}`)

		_, err := Load(cfg, "empty")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no tables")
	})
}

func TestSchemaDescription(t *testing.T) {
	cfg := writeTestSchema(t, "banking", bankingSchema)
	p, err := Load(cfg, "banking")
	require.NoError(t, err)

	desc := p.SchemaDescription()
	assert.Contains(t, desc, "Domain: Banking")
	assert.Contains(t, desc, "customers:")
	assert.Contains(t, desc, "Primary Key: customer_id")
	// Single fk renders singular, list renders plural.
	assert.Contains(t, desc, "Foreign Key: customer_id")
	assert.Contains(t, desc, "Foreign Keys: account_id, customer_id")
	assert.Contains(t, desc, "- age: Customer age in years")
}

func TestLoaderSnippet(t *testing.T) {
	cfg := writeTestSchema(t, "banking", bankingSchema)
	p, err := Load(cfg, "banking")
	require.NoError(t, err)

	snippet := p.LoaderSnippet()
	assert.Contains(t, snippet, "import pandas as pd")
	assert.Contains(t, snippet, "customers = pd.read_csv(")
	assert.Contains(t, snippet, "accounts = pd.read_csv(")
	assert.Contains(t, snippet, "transactions = pd.read_csv(")
	assert.Contains(t, snippet, filepath.ToSlash(filepath.Join(cfg.DataDir, "banking", "customers.csv")))
	// The preamble must never open an interactive display.
	assert.NotContains(t, snippet, "plt.show()")
}

func TestDiscover(t *testing.T) {
	cfg := writeTestSchema(t, "banking", bankingSchema)
	// Second valid domain plus a directory without a schema.
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.MetadataDir, "hospital"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.MetadataDir, "hospital", "_schema.json"),
		[]byte(`{"domain_name":"Hospital","tables":[{"name":"patients","pk":"id","columns":{"id":"x"}}]}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.MetadataDir, "scratch"), 0o755))

	domains, err := Discover(cfg.MetadataDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"banking", "hospital"}, domains)
}

func TestCache(t *testing.T) {
	cfg := writeTestSchema(t, "banking", bankingSchema)
	cache := NewCache(cfg)

	p1, err := cache.Get("banking")
	require.NoError(t, err)
	p2, err := cache.Get("banking")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	cache.Invalidate("banking")
	p3, err := cache.Get("banking")
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)

	_, err = cache.Get("unknown")
	assert.Error(t, err)
}

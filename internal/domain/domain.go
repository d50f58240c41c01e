// Package domain supplies per-domain schema metadata and the data-loading
// preamble prepended to generated analysis code.
//
// A domain is a named business vertical (banking, hospital, ...) described
// by a _schema.json file under the metadata directory. The provider renders
// two views of it: a human-readable schema description used verbatim in
// prompts, and a Python snippet that binds every table name to its CSV.
package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Config holds domain provider configuration.
type Config struct {
	// MetadataDir contains <domain>/_schema.json files.
	MetadataDir string `koanf:"metadata_dir"`
	// DataDir contains <domain>/<table>.csv files.
	DataDir string `koanf:"data_dir"`
}

// schemaFileName is the per-domain schema file under MetadataDir.
const schemaFileName = "_schema.json"

// Schema is the parsed _schema.json for one domain.
type Schema struct {
	DomainName        string  `json:"domain_name"`
	DomainDescription string  `json:"domain_description"`
	Tables            []Table `json:"tables"`
}

// Table describes one tabular dataset within a domain.
type Table struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PrimaryKey  string            `json:"pk"`
	ForeignKeys ForeignKeys       `json:"fk"`
	Columns     map[string]string `json:"columns"`
}

// ForeignKeys accepts both a single string and a list in _schema.json.
type ForeignKeys []string

func (f *ForeignKeys) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*f = ForeignKeys{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("fk must be a string or list of strings: %w", err)
	}
	*f = list
	return nil
}

// Provider serves schema metadata for a single domain.
type Provider struct {
	domain  string
	dataDir string
	schema  Schema
}

// Load reads the schema for the named domain from cfg.MetadataDir.
func Load(cfg Config, domain string) (*Provider, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain name required")
	}

	schemaPath := filepath.Join(cfg.MetadataDir, domain, schemaFileName)
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema for domain %q: %w", domain, err)
	}

	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema for domain %q: %w", domain, err)
	}
	if len(schema.Tables) == 0 {
		return nil, fmt.Errorf("schema for domain %q declares no tables", domain)
	}

	return &Provider{
		domain:  domain,
		dataDir: cfg.DataDir,
		schema:  schema,
	}, nil
}

// Name returns the domain name the provider was loaded for.
func (p *Provider) Name() string {
	return p.domain
}

// DisplayName returns the human-readable domain name from the schema.
func (p *Provider) DisplayName() string {
	return p.schema.DomainName
}

// TableNames returns the table names in schema order.
func (p *Provider) TableNames() []string {
	names := make([]string, 0, len(p.schema.Tables))
	for _, table := range p.schema.Tables {
		names = append(names, table.Name)
	}
	return names
}

// SchemaDescription renders the schema as prompt text: tables, keys, and
// column descriptions.
func (p *Provider) SchemaDescription() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Domain: %s\n", p.schema.DomainName)
	fmt.Fprintf(&b, "Description: %s\n\n", p.schema.DomainDescription)
	b.WriteString("Available Tables:\n")

	for _, table := range p.schema.Tables {
		fmt.Fprintf(&b, "\n%s:\n", table.Name)
		fmt.Fprintf(&b, "  Description: %s\n", table.Description)
		fmt.Fprintf(&b, "  Primary Key: %s\n", table.PrimaryKey)
		switch len(table.ForeignKeys) {
		case 0:
		case 1:
			fmt.Fprintf(&b, "  Foreign Key: %s\n", table.ForeignKeys[0])
		default:
			fmt.Fprintf(&b, "  Foreign Keys: %s\n", strings.Join(table.ForeignKeys, ", "))
		}
		b.WriteString("  Columns:\n")
		cols := make([]string, 0, len(table.Columns))
		for col := range table.Columns {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			fmt.Fprintf(&b, "    - %s: %s\n", col, table.Columns[col])
		}
	}

	return b.String()
}

// LoaderSnippet returns the Python preamble that, executed first, binds
// every table name to a DataFrame loaded from its CSV. The snippet also
// configures matplotlib for file output so generated code never opens a
// display.
func (p *Provider) LoaderSnippet() string {
	var b strings.Builder
	b.WriteString(`import pandas as pd
import numpy as np
import matplotlib.pyplot as plt
import seaborn as sns
import os

# Configure matplotlib for file output
plt.style.use('default')
plt.rcParams['figure.figsize'] = [9, 5]
plt.rcParams['font.size'] = 9
plt.rcParams['savefig.bbox'] = 'tight'
plt.rcParams['savefig.dpi'] = 100

# Create output directory if it doesn't exist
os.makedirs('output', exist_ok=True)

`)

	for _, table := range p.schema.Tables {
		csvPath := filepath.ToSlash(filepath.Join(p.dataDir, p.domain, table.Name+".csv"))
		fmt.Fprintf(&b, "print('Loading %s...')\n", table.Name)
		fmt.Fprintf(&b, "%s = pd.read_csv('%s')\n", table.Name, csvPath)
		fmt.Fprintf(&b, "print(f'%s loaded: {len(%s)} rows')\n", table.Name, table.Name)
	}
	b.WriteString("print('All dataframes loaded successfully!')\n")

	return b.String()
}

// Discover returns the domains available under metadataDir: every
// subdirectory containing a _schema.json, sorted by name.
func Discover(metadataDir string) ([]string, error) {
	entries, err := os.ReadDir(metadataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata directory: %w", err)
	}

	var domains []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		schemaPath := filepath.Join(metadataDir, entry.Name(), schemaFileName)
		if _, err := os.Stat(schemaPath); err == nil {
			domains = append(domains, entry.Name())
		}
	}
	sort.Strings(domains)
	return domains, nil
}

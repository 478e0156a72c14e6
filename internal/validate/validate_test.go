package validate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["author", "config", "identifier", "meta", "schemaVersion"],
  "properties": {
    "author": {"type": "string"},
    "config": {
      "type": "object",
      "properties": {
        "systemRole": {"type": "string"},
        "openingMessage": {"type": "string"},
        "plugins": {"type": "array", "items": {"type": "string"}}
      }
    },
    "identifier": {"type": "string"},
    "meta": {
      "type": "object",
      "required": ["title", "description"],
      "properties": {
        "title": {"type": "string"},
        "description": {"type": "string"},
        "tags": {"type": "array"},
        "category": {"type": "string"}
      }
    },
    "schemaVersion": {"type": "number"},
    "createdAt": {"type": "string"},
    "homepage": {"type": "string"}
  }
}`

func agentDoc(id string) map[string]any {
	return map[string]any{
		"author":        "bnb",
		"identifier":    id,
		"schemaVersion": 1,
		"config": map[string]any{
			"systemRole":     strings.Repeat("You are a BNB Chain assistant. ", 5),
			"openingMessage": "Hi",
			"plugins":        []any{"erc8004-mcp"},
		},
		"meta": map[string]any{
			"title":       id,
			"description": "does things",
			"tags":        []any{"defi"},
			"category":    "defi",
		},
	}
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

// project builds a tree that passes every suite.
func project(t *testing.T) (string, Layout) {
	t.Helper()
	root := t.TempDir()
	l := DefaultLayout(root)

	require.NoError(t, os.MkdirAll(filepath.Dir(l.SchemaFile), 0o755))
	require.NoError(t, os.WriteFile(l.SchemaFile, []byte(testSchema), 0o644))

	for _, id := range []string{"bnb-staking", "pancake-trader"} {
		writeJSON(t, filepath.Join(l.AgentsDir, id+".json"), agentDoc(id))
		writeJSON(t, filepath.Join(l.LocalesDir, id, "index.json"), map[string]any{
			"config": map[string]any{"systemRole": "x", "openingMessage": "y"},
			"meta":   map[string]any{"title": "t", "description": "d"},
		})
	}
	writeJSON(t, filepath.Join(l.AgentsDir, "agent-template.json"), map[string]any{"anything": true})

	writeJSON(t, l.MetaFile, map[string]any{
		"project":        "bnb-chain-toolkit",
		"author":         "nich",
		"ecosystem":      "BNB Chain",
		"components":     []any{"agents", "mcp-servers", "defi-tools"},
		"agentCount":     78,
		"mcpServerCount": 6,
	})

	contract := func(name, addr string) map[string]any {
		return map[string]any{"name": name, "address": addr, "explorerLink": "https://bscscan.com/address/" + addr}
	}
	writeJSON(t, l.AddressFile, map[string]any{
		"projectName": "BNB Chain AI Toolkit",
		"networks": []any{
			map[string]any{"name": "BSC Mainnet", "contracts": []any{
				contract("IdentityRegistry", "0x8004A169FB4a3325136EB29fA0ceB6D2e539a432"),
				contract("ReputationRegistry", "0x8004BAa17C55a88189AE136b182e5fdA19dE9b63"),
			}},
			map[string]any{"name": "BSC Testnet", "contracts": []any{
				contract("IdentityRegistry", "0x8004A818BFB912233c491871b3d84c89A494BD9e"),
				contract("ReputationRegistry", "0x8004B663056A597Dffe9eCcC1965A193B7388713"),
				contract("ValidationRegistry", "0x8004Cb1BF31DAf7788923b405b754f57acEB4272"),
			}},
		},
		"firstTransaction": map[string]any{"txHash": "0xabc", "explorerLink": "https://testnet.bscscan.com/tx/0xabc"},
	})
	return root, l
}

func rules(r *Report) []string {
	out := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		out = append(out, f.Rule)
	}
	return out
}

func TestRunCleanProject(t *testing.T) {
	_, l := project(t)
	l.MinAgents, l.MinLocales = 2, 2

	report, err := Run(l)
	require.NoError(t, err)
	assert.True(t, report.OK(), "unexpected findings: %v", report.Findings)
	assert.Equal(t, []string{"agents", "schema", "locales", "meta", "address"}, report.Suites)
}

func TestAgentFindings(t *testing.T) {
	_, l := project(t)

	bad := agentDoc("bnb-staking")
	bad["config"].(map[string]any)["systemRole"] = "too short"
	bad["config"].(map[string]any)["plugins"] = []any{"ok", 3}
	delete(bad["meta"].(map[string]any), "tags")
	bad["meta"].(map[string]any)["category"] = ""
	writeJSON(t, filepath.Join(l.AgentsDir, "staking-copy.json"), bad)
	require.NoError(t, os.WriteFile(filepath.Join(l.AgentsDir, "broken.json"), []byte("{"), 0o644))
	l.LocalesDir = ""
	l.MinAgents = 10

	report, err := Run(l)
	require.NoError(t, err)
	got := rules(report)
	for _, want := range []string{
		"agent.systemRole",
		"agent.plugins",
		"agent.meta.tags",
		"agent.meta.category",
		"agent.duplicateIdentifier",
		"json.invalid",
		"agents.count",
	} {
		assert.Contains(t, got, want)
	}
	assert.False(t, report.OK())
}

func TestSchemaFindings(t *testing.T) {
	_, l := project(t)

	doc := agentDoc("extra")
	doc["foo"] = "bar"
	doc["schemaVersion"] = "1"
	delete(doc, "author")
	delete(doc["meta"].(map[string]any), "description")
	writeJSON(t, filepath.Join(l.AgentsDir, "extra.json"), doc)
	l.LocalesDir = ""

	report, err := Run(l)
	require.NoError(t, err)
	got := rules(report)
	assert.Contains(t, got, "schema.unknownField")
	assert.Contains(t, got, "schema.required")
	assert.Contains(t, got, "schema.metaRequired")
	assert.Contains(t, got, "schema.conformance")
	assert.Contains(t, got, "agent.schemaVersion")
	for _, f := range report.Findings {
		assert.Equal(t, filepath.Join(l.AgentsDir, "extra.json"), f.File, f.String())
	}
}

func TestSchemaDefinitionChecks(t *testing.T) {
	_, l := project(t)
	require.NoError(t, os.WriteFile(l.SchemaFile, []byte(`{"type":"object","properties":{"config":{}}}`), 0o644))

	report, err := Run(Layout{SchemaFile: l.SchemaFile})
	require.NoError(t, err)
	assert.Contains(t, rules(report), "schema.definition")
}

func TestLocaleFindings(t *testing.T) {
	_, l := project(t)
	require.NoError(t, os.MkdirAll(filepath.Join(l.LocalesDir, "ghost-agent"), 0o755))
	writeJSON(t, filepath.Join(l.LocalesDir, "pancake-trader", "index.json"), map[string]any{
		"config": map[string]any{"systemRole": "x"},
		"meta":   map[string]any{"title": "t", "description": "d"},
	})
	l.MinLocales = 5

	report, err := Run(l)
	require.NoError(t, err)
	got := rules(report)
	assert.Contains(t, got, "locale.unknownAgent")
	assert.Contains(t, got, "file.missing")
	assert.Contains(t, got, "locale.config.openingMessage")
	assert.Contains(t, got, "locales.count")
}

func TestMetaFindings(t *testing.T) {
	_, l := project(t)
	writeJSON(t, l.MetaFile, map[string]any{
		"project":    "x",
		"ecosystem":  "Ethereum",
		"components": []any{"agents"},
		"toolCount":  "many",
	})

	report, err := Run(Layout{MetaFile: l.MetaFile})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"meta.author", "meta.ecosystem", "meta.components", "meta.toolCount"}, rules(report))
}

func TestAddressFindings(t *testing.T) {
	_, l := project(t)
	writeJSON(t, l.AddressFile, map[string]any{
		"projectName": "BNB Chain AI Toolkit",
		"networks": []any{
			map[string]any{"name": "BSC Mainnet", "contracts": []any{
				map[string]any{"name": "IdentityRegistry", "address": "0x1234", "explorerLink": "http://bscscan.com"},
			}},
		},
		"firstTransaction": map[string]any{"txHash": ""},
	})

	report, err := Run(Layout{AddressFile: l.AddressFile})
	require.NoError(t, err)
	got := rules(report)
	assert.Contains(t, got, "address.prefix")
	assert.Contains(t, got, "address.explorerLink")
	assert.Contains(t, got, "address.mainnet")
	assert.Contains(t, got, "address.testnet")
	assert.Contains(t, got, "address.firstTransaction")
}

func TestMissingAgentsDir(t *testing.T) {
	_, err := Run(Layout{AgentsDir: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}

// Package validate checks the agent definition tree: agent JSON files,
// their locales, project metadata, the on-chain address manifest and
// conformance to the agent JSON schema.
package validate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Finding is one failed check.
type Finding struct {
	File    string `json:"file"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: [%s] %s", f.File, f.Rule, f.Message)
}

// Report collects findings across suites.
type Report struct {
	Suites   []string  `json:"suites"`
	Findings []Finding `json:"findings"`
}

// OK reports whether every check passed.
func (r *Report) OK() bool { return len(r.Findings) == 0 }

func (r *Report) add(file, rule, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{File: file, Rule: rule, Message: fmt.Sprintf(format, args...)})
}

// Layout locates the inputs under a project root. Empty paths skip the
// corresponding suite.
type Layout struct {
	AgentsDir   string
	LocalesDir  string
	MetaFile    string
	AddressFile string
	SchemaFile  string

	// MinAgents and MinLocales are lower bounds on the number of agent
	// files and locale directories. Zero disables the check.
	MinAgents  int
	MinLocales int
}

// DefaultLayout returns the conventional layout below root.
func DefaultLayout(root string) Layout {
	return Layout{
		AgentsDir:   filepath.Join(root, "agents", "bnb-chain-agents"),
		LocalesDir:  filepath.Join(root, "locales"),
		MetaFile:    filepath.Join(root, "meta.json"),
		AddressFile: filepath.Join(root, "bsc.address"),
		SchemaFile:  filepath.Join(root, "schema", "speraxAgentSchema_v1.json"),
	}
}

// excluded files live in the agents directory but are not agents.
var excluded = map[string]bool{
	"agent-template.json":      true,
	"agent-template-full.json": true,
	"agents-manifest.json":     true,
}

// Run executes every suite the layout enables.
func Run(l Layout) (*Report, error) {
	r := &Report{}
	var agents []agentFile
	if l.AgentsDir != "" {
		r.Suites = append(r.Suites, "agents")
		var err error
		agents, err = loadAgents(r, l.AgentsDir)
		if err != nil {
			return nil, err
		}
		checkAgents(r, agents, l.MinAgents)
	}
	if l.SchemaFile != "" {
		r.Suites = append(r.Suites, "schema")
		checkSchema(r, l.SchemaFile, agents)
	}
	if l.LocalesDir != "" {
		r.Suites = append(r.Suites, "locales")
		if err := checkLocales(r, l.LocalesDir, agents, l.MinLocales); err != nil {
			return nil, err
		}
	}
	if l.MetaFile != "" {
		r.Suites = append(r.Suites, "meta")
		checkMeta(r, l.MetaFile)
	}
	if l.AddressFile != "" {
		r.Suites = append(r.Suites, "address")
		checkAddresses(r, l.AddressFile)
	}
	sort.SliceStable(r.Findings, func(i, j int) bool { return r.Findings[i].File < r.Findings[j].File })
	return r, nil
}

// readObject parses path as a JSON object. Failures become findings and
// yield nil.
func readObject(r *Report, path string) map[string]any {
	raw, err := os.ReadFile(path)
	if err != nil {
		r.add(path, "file.missing", "%v", err)
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		r.add(path, "json.invalid", "invalid JSON: %v", err)
		return nil
	}
	return doc
}

func object(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key].(map[string]any)
	return v, ok
}

func str(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

func number(m map[string]any, key string) (float64, bool) {
	v, ok := m[key].(float64)
	return v, ok
}

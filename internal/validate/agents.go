package validate

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// MinSystemRole is the shortest acceptable config.systemRole, in runes.
const MinSystemRole = 100

type agentFile struct {
	path string
	name string // file name without .json
	doc  map[string]any
}

func loadAgents(r *Report, dir string) ([]agentFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []agentFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		doc := readObject(r, path)
		if excluded[e.Name()] || doc == nil {
			continue
		}
		out = append(out, agentFile{path: path, name: strings.TrimSuffix(e.Name(), ".json"), doc: doc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

func checkAgents(r *Report, agents []agentFile, min int) {
	if min > 0 && len(agents) < min {
		r.add("", "agents.count", "found %d agent files, want at least %d", len(agents), min)
	}
	seen := make(map[string]string)
	for _, a := range agents {
		checkAgent(r, a)
		id, ok := str(a.doc, "identifier")
		if !ok {
			continue
		}
		if first, dup := seen[id]; dup {
			r.add(a.path, "agent.duplicateIdentifier", "identifier %q already used by %s", id, first)
			continue
		}
		seen[id] = a.path
	}
}

func checkAgent(r *Report, a agentFile) {
	config, ok := object(a.doc, "config")
	if !ok {
		r.add(a.path, "agent.config", "config must be an object")
	} else {
		role, ok := str(config, "systemRole")
		switch {
		case !ok || role == "":
			r.add(a.path, "agent.systemRole", "config.systemRole must be a non-empty string")
		case utf8.RuneCountInString(role) < MinSystemRole:
			r.add(a.path, "agent.systemRole", "config.systemRole has %d characters, want at least %d", utf8.RuneCountInString(role), MinSystemRole)
		}
		if _, ok := str(config, "openingMessage"); !ok {
			r.add(a.path, "agent.openingMessage", "config.openingMessage must be a string")
		}
		if plugins, present := config["plugins"]; present {
			list, ok := plugins.([]any)
			if !ok {
				r.add(a.path, "agent.plugins", "config.plugins must be an array")
			}
			for i, p := range list {
				if _, ok := p.(string); !ok {
					r.add(a.path, "agent.plugins", "config.plugins[%d] must be a string", i)
				}
			}
		}
	}

	if _, ok := str(a.doc, "identifier"); !ok {
		r.add(a.path, "agent.identifier", "identifier must be a string")
	}
	if _, ok := number(a.doc, "schemaVersion"); !ok {
		r.add(a.path, "agent.schemaVersion", "schemaVersion must be a number")
	}

	meta, ok := object(a.doc, "meta")
	if !ok {
		r.add(a.path, "agent.meta", "meta must be an object")
		return
	}
	for _, key := range []string{"title", "description"} {
		if _, ok := str(meta, key); !ok {
			r.add(a.path, "agent.meta."+key, "meta.%s must be a string", key)
		}
	}
	if _, ok := meta["tags"].([]any); !ok {
		r.add(a.path, "agent.meta.tags", "meta.tags must be an array")
	}
	if c, _ := str(meta, "category"); c == "" {
		r.add(a.path, "agent.meta.category", "meta.category must be a non-empty string")
	}
}

// checkLocales expects one directory per agent, named after the agent
// file, holding an index.json with the translated fields.
func checkLocales(r *Report, dir string, agents []agentFile, min int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(agents))
	for _, a := range agents {
		known[a.name] = true
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		count++
		path := filepath.Join(dir, e.Name(), "index.json")
		if len(agents) > 0 && !known[e.Name()] {
			r.add(filepath.Join(dir, e.Name()), "locale.unknownAgent", "%s does not match any agent identifier", e.Name())
		}
		doc := readObject(r, path)
		if doc == nil {
			continue
		}
		config, _ := object(doc, "config")
		meta, _ := object(doc, "meta")
		for _, key := range []string{"systemRole", "openingMessage"} {
			if _, ok := str(config, key); !ok {
				r.add(path, "locale.config."+key, "config.%s must be a string", key)
			}
		}
		for _, key := range []string{"title", "description"} {
			if _, ok := str(meta, key); !ok {
				r.add(path, "locale.meta."+key, "meta.%s must be a string", key)
			}
		}
	}
	if min > 0 && count < min {
		r.add(dir, "locales.count", "found %d locale directories, want at least %d", count, min)
	}
	return nil
}

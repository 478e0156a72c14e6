package validate

import (
	"encoding/json"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

// duplicated by the explicit field checks below
var skipErrorTypes = map[string]bool{
	"required":                        true,
	"additional_property_not_allowed": true,
}

type agentSchema struct {
	Properties map[string]json.RawMessage `json:"properties"`
	Required   []string                   `json:"required"`
}

func checkSchema(r *Report, path string, agents []agentFile) {
	raw, err := os.ReadFile(path)
	if err != nil {
		r.add(path, "file.missing", "%v", err)
		return
	}
	var def agentSchema
	if err := json.Unmarshal(raw, &def); err != nil {
		r.add(path, "json.invalid", "invalid JSON: %v", err)
		return
	}
	for _, key := range []string{"author", "config", "identifier", "meta", "schemaVersion", "createdAt", "homepage"} {
		if _, ok := def.Properties[key]; !ok {
			r.add(path, "schema.definition", "schema does not define %q", key)
		}
	}
	if len(def.Required) == 0 {
		r.add(path, "schema.definition", "schema has no required fields")
	}
	var metaDef agentSchema
	if m, ok := def.Properties["meta"]; ok {
		_ = json.Unmarshal(m, &metaDef)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		r.add(path, "schema.compile", "%v", err)
		compiled = nil
	}

	for _, a := range agents {
		for _, key := range def.Required {
			if _, ok := a.doc[key]; !ok {
				r.add(a.path, "schema.required", "missing required field %q", key)
			}
		}
		for key := range a.doc {
			if _, ok := def.Properties[key]; !ok {
				r.add(a.path, "schema.unknownField", "unknown top-level field %q", key)
			}
		}
		if meta, ok := object(a.doc, "meta"); ok {
			for _, key := range metaDef.Required {
				if _, ok := meta[key]; !ok {
					r.add(a.path, "schema.metaRequired", "meta is missing required field %q", key)
				}
			}
		}
		if compiled == nil {
			continue
		}
		res, err := compiled.Validate(gojsonschema.NewGoLoader(a.doc))
		if err != nil {
			r.add(a.path, "schema.conformance", "%v", err)
			continue
		}
		for _, e := range res.Errors() {
			if skipErrorTypes[e.Type()] {
				continue
			}
			r.add(a.path, "schema.conformance", "%s: %s", e.Field(), e.Description())
		}
	}
}

// Package schema implements the Contract Validator (C2): a minimal,
// cross-reference-resolving JSON-Schema-shaped validator gating every
// inter-agent payload.
//
// No JSON-Schema engine in the example corpus exposes a verified
// identifier-indexed Resolve/Validate API outside struct-tag-driven tool
// schema generation, so this is hand-rolled on encoding/json - see
// DESIGN.md for the justification. The two-phase build (scan everything,
// then resolve references by identifier) is grounded on the teacher's
// model.FieldRegistry: compile, then index by key.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// FieldType is the accepted set of primitive JSON types a schema field
// can declare.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
	TypeAny     FieldType = "any"
)

// Field describes one property of a Document.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	// Ref, if set, names another schema's $id that this field's value
	// must itself satisfy (for object/array-of-object fields).
	Ref string `json:"ref,omitempty"`
}

// Document is one schema, as loaded from disk: an identifier and a flat
// list of fields. Nested/array-of-object validation is handled by
// resolving Ref against the Registry at validate time.
type Document struct {
	ID     string  `json:"$id"`
	Fields []Field `json:"fields"`
}

// Diagnostic is one path-tagged validation failure.
type Diagnostic struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string { return d.Path + ": " + d.Message }

// Mode is the enforcement mode for a validation call.
type Mode string

const (
	ModeSoft   Mode = "soft"
	ModeStrict Mode = "strict"
)

// Registry holds every schema known at startup, indexed by $id.
type Registry struct {
	byID map[string]*Document
}

// NewRegistry scans every *.json file under root and builds an
// identifier-indexed registry. Phase one collects every document; phase
// two resolves each field's Ref by identifier lookup (not by file path)
// and fails fast on anything unresolved, per the spec's two-phase build.
func NewRegistry(root string) (*Registry, error) {
	byID := make(map[string]*Document)

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "read schema %s", path)
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return eris.Wrapf(err, "parse schema %s", path)
		}
		if doc.ID == "" {
			return eris.Errorf("schema %s has no $id", path)
		}
		if _, exists := byID[doc.ID]; exists {
			return eris.Errorf("duplicate schema $id %q", doc.ID)
		}
		byID[doc.ID] = &doc
		return nil
	})
	if err != nil {
		return nil, err
	}

	reg := &Registry{byID: byID}
	for id, doc := range byID {
		for _, f := range doc.Fields {
			if f.Ref == "" {
				continue
			}
			if _, ok := byID[f.Ref]; !ok {
				return nil, eris.Errorf("schema %q field %q references unresolved schema %q", id, f.Name, f.Ref)
			}
		}
	}

	return reg, nil
}

// Get returns the document for id, if registered.
func (r *Registry) Get(id string) (*Document, bool) {
	doc, ok := r.byID[id]
	return doc, ok
}

// Validate checks candidate (a decoded JSON document, map[string]any at
// the top level) against the schema named id.
func (r *Registry) Validate(id string, candidate any) (bool, []Diagnostic) {
	doc, ok := r.byID[id]
	if !ok {
		return false, []Diagnostic{{Path: "$", Message: fmt.Sprintf("unknown schema id %q", id)}}
	}
	return r.validateDoc(doc, candidate, "$")
}

func (r *Registry) validateDoc(doc *Document, candidate any, path string) (bool, []Diagnostic) {
	obj, ok := candidate.(map[string]any)
	if !ok {
		return false, []Diagnostic{{Path: path, Message: "expected an object"}}
	}

	var diags []Diagnostic
	for _, f := range doc.Fields {
		fieldPath := path + "." + f.Name
		v, present := obj[f.Name]
		if !present {
			if f.Required {
				diags = append(diags, Diagnostic{Path: fieldPath, Message: "missing required field"})
			}
			continue
		}
		if !typeMatches(f.Type, v) {
			diags = append(diags, Diagnostic{Path: fieldPath, Message: fmt.Sprintf("expected type %s", f.Type)})
			continue
		}
		if f.Ref != "" {
			refDoc, ok := r.byID[f.Ref]
			if !ok {
				diags = append(diags, Diagnostic{Path: fieldPath, Message: fmt.Sprintf("unresolved reference %q", f.Ref)})
				continue
			}
			if ok, sub := r.validateDoc(refDoc, v, fieldPath); !ok {
				diags = append(diags, sub...)
			}
		}
	}
	return len(diags) == 0, diags
}

func typeMatches(t FieldType, v any) bool {
	switch t {
	case TypeAny, "":
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber, TypeInteger:
		_, ok := v.(float64)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return false
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package bundle encodes the authorization model (permissions, roles and
// policies) as a portable YAML document.
package bundle

//go:generate go run ../../cmd/gen-schema ../../schemas/bundle.schema.json

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/aegis-pdp/aegis/internal/access/policy"
	"github.com/aegis-pdp/aegis/internal/access/rbac"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// Version is the bundle format version written by Marshal.
const Version = 1

// SchemaID is the $id of the generated JSON Schema.
const SchemaID = "https://aegis-pdp.dev/schemas/bundle.schema.json"

// CodeInvalidBundle is returned for bundles that fail to parse or validate.
const CodeInvalidBundle = "BUNDLE_INVALID"

// Bundle is an export of the authorization model. Users and sessions are
// never included.
type Bundle struct {
	Version     int               `json:"version" yaml:"version" jsonschema:"required,enum=1"`
	Permissions []rbac.Permission `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Roles       []rbac.Role       `json:"roles,omitempty" yaml:"roles,omitempty"`
	Policies    []policy.Policy   `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// Sort orders every section by ID so that equal models encode identically.
func (b *Bundle) Sort() {
	slices.SortFunc(b.Permissions, func(x, y rbac.Permission) int { return strings.Compare(x.ID, y.ID) })
	slices.SortFunc(b.Roles, func(x, y rbac.Role) int { return strings.Compare(x.ID, y.ID) })
	slices.SortFunc(b.Policies, func(x, y policy.Policy) int { return strings.Compare(x.ID, y.ID) })
}

// Marshal encodes b as YAML.
func Marshal(b Bundle) ([]byte, error) {
	if b.Version == 0 {
		b.Version = Version
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(b); err != nil {
		return nil, oops.Code("BUNDLE_ENCODE_FAILED").Wrap(err)
	}
	if err := enc.Close(); err != nil {
		return nil, oops.Code("BUNDLE_ENCODE_FAILED").Wrap(err)
	}
	return buf.Bytes(), nil
}

// Unmarshal validates data against the bundle schema and decodes it. YAML
// and JSON input are both accepted.
func Unmarshal(data []byte) (Bundle, error) {
	if err := Validate(data); err != nil {
		return Bundle{}, err
	}
	var b Bundle
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return Bundle{}, errutil.Validation(CodeInvalidBundle).Wrap(err)
	}
	return b, nil
}

// Validate checks data against the bundle JSON Schema.
func Validate(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errutil.Validation(CodeInvalidBundle).Errorf("bundle is empty")
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errutil.Validation(CodeInvalidBundle).With("stage", "parse").Wrap(err)
	}

	sch, err := compiled()
	if err != nil {
		return err
	}
	if err := sch.Validate(toJSONTypes(doc)); err != nil {
		return errutil.Validation(CodeInvalidBundle).With("stage", "schema").Wrap(err)
	}
	return nil
}

// Schema returns the bundle JSON Schema, indented.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(&Bundle{})
	s.ID = jsonschema.ID(SchemaID)
	s.Title = "Aegis authorization bundle"
	s.Description = "Permissions, roles and policies exported from an Aegis policy decision point"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, oops.Code("BUNDLE_SCHEMA_FAILED").Wrap(err)
	}
	return data, nil
}

var compiled = sync.OnceValues(func() (*jschema.Schema, error) {
	raw, err := Schema()
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.Code("BUNDLE_SCHEMA_FAILED").Wrap(err)
	}
	c := jschema.NewCompiler()
	if err := c.AddResource(SchemaID, doc); err != nil {
		return nil, oops.Code("BUNDLE_SCHEMA_FAILED").Wrap(err)
	}
	sch, err := c.Compile(SchemaID)
	if err != nil {
		return nil, oops.Code("BUNDLE_SCHEMA_FAILED").Wrap(err)
	}
	return sch, nil
})

// toJSONTypes rewrites YAML-decoded values into the types a JSON decoder
// would produce. Timestamps and other non-JSON scalars go through a JSON
// round trip.
func toJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toJSONTypes(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJSONTypes(item)
		}
		return out
	case string, int, int64, float64, bool, nil:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return val
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return val
		}
		return out
	}
}

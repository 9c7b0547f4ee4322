package bytecode

import "gopkg.in/yaml.v3"

// Serialize renders the module as a self-describing YAML document: every
// field is tagged, so the document round-trips without an external
// schema. This is the text format tooling should reach for (diffable,
// greppable); Encode/Decode in format.go provide the denser binary
// counterpart for embedding compiled modules in a distribution.
func (m *Module) Serialize() ([]byte, error) {
	return yaml.Marshal(m)
}

// Deserialize parses a module previously produced by Serialize.
func Deserialize(data []byte) (*Module, error) {
	var m Module
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var inbound = map[string]*jsonschema.Schema{
	TypeHello:  mustSchema("hello.schema.json"),
	TypeSpawn:  mustSchema("spawn.schema.json"),
	TypeVacate: mustSchema("vacate.schema.json"),
}

func mustSchema(name string) *jsonschema.Schema {
	b, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(err)
	}
	return jsonschema.MustCompileString(name, string(b))
}

// ValidateInbound checks a client message against the schema for its type.
// Types without a schema (STATE, SETTLE) pass.
func ValidateInbound(typ string, raw []byte) error {
	s, ok := inbound[typ]
	if !ok {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", typ, err)
	}
	return nil
}

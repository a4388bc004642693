// Package snapshot moves whole-calendar snapshots in and out of the
// process: JSON export and import, with imports checked against an
// embedded JSON schema, and an iCalendar rendering for subscription.
package snapshot

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/famcal/internal/record"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://famcal.local/schema/snapshot.json"

var compiled = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add snapshot schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}
	return schema, nil
})

// Encode writes snap as indented JSON. Non-ASCII text is written as is.
func Encode(w io.Writer, snap record.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if snap.Events == nil {
		snap.Events = []record.Event{}
	}
	if snap.Tasks == nil {
		snap.Tasks = []string{}
	}
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// Marshal is Encode into a byte slice.
func Marshal(snap record.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads one snapshot from r. Documents that fail the schema are
// rejected with an error wrapping record.ErrInvalid that lists every
// violation.
func Decode(r io.Reader) (record.Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return record.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return Unmarshal(data)
}

// Unmarshal is Decode over a byte slice.
func Unmarshal(data []byte) (record.Snapshot, error) {
	schema, err := compiled()
	if err != nil {
		return record.Snapshot{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return record.Snapshot{}, fmt.Errorf("%w: parse snapshot: %v", record.ErrInvalid, err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return record.Snapshot{}, fmt.Errorf("%w: snapshot: %s",
				record.ErrInvalid, strings.Join(collectSchemaErrors(ve), "; "))
		}
		return record.Snapshot{}, fmt.Errorf("validate snapshot: %w", err)
	}

	var snap record.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return record.Snapshot{}, fmt.Errorf("%w: decode snapshot: %v", record.ErrInvalid, err)
	}
	if snap.Tasks == nil {
		snap.Tasks = []string{}
	}
	return snap, nil
}

// collectSchemaErrors flattens the leaves of a validation error tree.
func collectSchemaErrors(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, collectSchemaErrors(cause)...)
	}
	return out
}

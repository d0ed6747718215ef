package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Input is a partially specified record. A nil field means the key was
// absent from the payload.
type Input struct {
	Username         *string
	AgentName        *string
	Label            *string
	Description      *string
	Version          *string
	DocumentationURL *string
	Jurisdiction     *string
	Provider         *Provider
	Endpoints        *Endpoints
	Capabilities     *Capabilities
	Skills           *[]Skill
	Evaluations      *Evaluations
	Telemetry        *Telemetry
	Certification    *Certification
	IsPublic         *bool
}

// readOnlyKeys are server-assigned; clients often echo them back from a
// previous read, so they are dropped instead of rejected.
var readOnlyKeys = map[string]struct{}{
	"id":         {},
	"_id":        {},
	"userId":     {},
	"created_at": {},
	"updated_at": {},
	"__v":        {},
}

type fieldDecoder func(in *Input, raw json.RawMessage) error

var inputFields = map[string]fieldDecoder{
	"username":         func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.Username) },
	"agent_name":       func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.AgentName) },
	"label":            func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.Label) },
	"description":      func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.Description) },
	"version":          func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.Version) },
	"documentationUrl": func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.DocumentationURL) },
	"jurisdiction":     func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.Jurisdiction) },
	"provider":         func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.Provider) },
	"endpoints":        func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.Endpoints) },
	"capabilities":     func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.Capabilities) },
	"skills":           func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.Skills) },
	"evaluations":      func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.Evaluations) },
	"telemetry":        func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.Telemetry) },
	"certification":    func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.Certification) },
	"isPublic":         func(in *Input, raw json.RawMessage) error { return decodeInto(raw, &in.IsPublic) },
}

// DecodeInput parses a JSON object against the closed set of writable
// record keys. Unknown keys, top-level or nested, are rejected; JSON null
// is treated as an absent key.
func DecodeInput(data []byte) (Input, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Input{}, invalid("", "request body must be a JSON object")
	}
	if fields == nil {
		return Input{}, invalid("", "request body must be a JSON object")
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var in Input
	for _, key := range keys {
		raw := fields[key]
		if _, ok := readOnlyKeys[key]; ok {
			continue
		}
		decode, ok := inputFields[key]
		if !ok {
			return Input{}, invalid(key, "is not a recognised field")
		}
		if isNull(raw) {
			continue
		}
		if err := decode(&in, raw); err != nil {
			return Input{}, invalid(key, describeDecodeError(err))
		}
	}
	return in, nil
}

func decodeInto(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return fmt.Sprintf("has wrong type at %q: expected %s", typeErr.Field, typeErr.Type)
		}
		return fmt.Sprintf("has wrong type: expected %s", typeErr.Type)
	}
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		return "contains unrecognised field " + rest
	}
	return "is malformed: " + strings.TrimPrefix(msg, "json: ")
}

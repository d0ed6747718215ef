package registry

import (
	"errors"
	"testing"
)

func TestDecodeInputPartial(t *testing.T) {
	in, err := DecodeInput([]byte(`{"description":"new","isPublic":false,"id":"ignored","created_at":"2024-01-01"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.Description == nil || *in.Description != "new" {
		t.Fatalf("description not decoded: %+v", in)
	}
	if in.IsPublic == nil || *in.IsPublic {
		t.Fatalf("isPublic not decoded: %+v", in)
	}
	if in.Username != nil || in.Capabilities != nil || in.Skills != nil {
		t.Fatalf("absent keys must stay nil: %+v", in)
	}
}

func TestDecodeInputNullIsAbsent(t *testing.T) {
	in, err := DecodeInput([]byte(`{"capabilities":null,"label":"x"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.Capabilities != nil {
		t.Fatalf("null must be treated as absent")
	}
}

func TestDecodeInputRejects(t *testing.T) {
	cases := map[string]struct {
		body  string
		field string
	}{
		"unknown top-level": {`{"username":"a","colour":"red"}`, "colour"},
		"unknown nested":    {`{"provider":{"name":"x","logo":"y"}}`, "provider"},
		"wrong type":        {`{"skills":{"id":"chat"}}`, "skills"},
		"not an object":     {`["a"]`, ""},
		"literal null":      {`null`, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeInput([]byte(tc.body))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %q, got %q (%v)", tc.field, verr.Field, err)
			}
		})
	}
}

func TestDecodeInputNested(t *testing.T) {
	in, err := DecodeInput([]byte(`{
		"endpoints": {"static": ["https://a.example"], "adaptive_resolver": {"url": "https://r.example", "policies": ["geo"]}},
		"skills": [{"id": "search", "inputModes": ["text"]}]
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.Endpoints == nil || in.Endpoints.AdaptiveResolver.URL != "https://r.example" {
		t.Fatalf("endpoints not decoded: %+v", in.Endpoints)
	}
	if in.Skills == nil || len(*in.Skills) != 1 || (*in.Skills)[0].ID != "search" {
		t.Fatalf("skills not decoded: %+v", in.Skills)
	}
}

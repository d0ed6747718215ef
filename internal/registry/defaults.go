package registry

import (
	"regexp"
	"strings"
	"time"
)

const (
	DefaultVersion      = "1.0"
	DefaultJurisdiction = "USA"

	certificationValidity = 365 * 24 * time.Hour

	// timestampLayout matches the millisecond ISO-8601 form used by existing documents.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// DefaultProvider is used when a record is created without a provider section.
func DefaultProvider() Provider {
	return Provider{}
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Static:           []string{},
		AdaptiveResolver: AdaptiveResolver{Policies: []string{}},
	}
}

func DefaultCapabilities() Capabilities {
	return Capabilities{
		Modalities: []string{"text"},
		Authentication: Authentication{
			Methods:        []string{},
			RequiredScopes: []string{},
		},
	}
}

func DefaultSkills() []Skill {
	return []Skill{{
		ID:                 "chat",
		Description:        "Basic chat functionality",
		InputModes:         []string{"text"},
		OutputModes:        []string{"text"},
		SupportedLanguages: []string{"en"},
	}}
}

func DefaultEvaluations() Evaluations {
	return Evaluations{}
}

func DefaultTelemetry() Telemetry {
	return Telemetry{Retention: "1d", Sampling: 0.1}
}

// DefaultCertification issues the baseline certification valid for one year from now.
func DefaultCertification(now time.Time) Certification {
	now = now.UTC()
	return Certification{
		Level:          "verified",
		Issuer:         "NANDA",
		IssuanceDate:   now.Format(timestampLayout),
		ExpirationDate: now.Add(certificationValidity).Format(timestampLayout),
	}
}

// NormalizeUsername trims and lower-cases a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validateUsername(username string) error {
	if username == "" {
		return invalid("username", "is required")
	}
	if !usernamePattern.MatchString(username) {
		return invalid("username", "may only contain a-z, 0-9, '_' and '-' (max 64 characters)")
	}
	return nil
}

// Materialize builds a complete record from creation input. Each nested
// section is taken as given when present and replaced by its default when
// absent; present sections are never merged with defaults field by field.
func Materialize(in Input, now time.Time, id string) (Record, error) {
	username := NormalizeUsername(deref(in.Username))
	if err := validateUsername(username); err != nil {
		return Record{}, err
	}
	agentName := strings.TrimSpace(deref(in.AgentName))
	if agentName == "" {
		return Record{}, invalid("agent_name", "is required")
	}
	label := strings.TrimSpace(deref(in.Label))
	if label == "" {
		return Record{}, invalid("label", "is required")
	}

	rec := Record{
		ID:               id,
		Username:         username,
		AgentName:        agentName,
		Label:            label,
		Description:      deref(in.Description),
		Version:          DefaultVersion,
		DocumentationURL: deref(in.DocumentationURL),
		Jurisdiction:     DefaultJurisdiction,
		Provider:         DefaultProvider(),
		Endpoints:        DefaultEndpoints(),
		Capabilities:     DefaultCapabilities(),
		Skills:           DefaultSkills(),
		Evaluations:      DefaultEvaluations(),
		Telemetry:        DefaultTelemetry(),
		Certification:    DefaultCertification(now),
		IsPublic:         true,
	}
	if in.Version != nil {
		rec.Version = *in.Version
	}
	if in.Jurisdiction != nil {
		rec.Jurisdiction = *in.Jurisdiction
	}
	if in.IsPublic != nil {
		rec.IsPublic = *in.IsPublic
	}
	if in.Provider != nil {
		rec.Provider = *in.Provider
	}
	if in.Endpoints != nil {
		rec.Endpoints = *in.Endpoints
	}
	if in.Capabilities != nil {
		rec.Capabilities = *in.Capabilities
	}
	if in.Skills != nil {
		rec.Skills = *in.Skills
	}
	if in.Evaluations != nil {
		rec.Evaluations = *in.Evaluations
	}
	if in.Telemetry != nil {
		rec.Telemetry = *in.Telemetry
	}
	if in.Certification != nil {
		rec.Certification = *in.Certification
	}
	normalizeLists(&rec)
	return rec, nil
}

// normalizeLists replaces nil slices with empty ones so list fields are
// never serialised as null.
func normalizeLists(r *Record) {
	r.Endpoints.Static = orEmpty(r.Endpoints.Static)
	r.Endpoints.AdaptiveResolver.Policies = orEmpty(r.Endpoints.AdaptiveResolver.Policies)
	r.Capabilities.Modalities = orEmpty(r.Capabilities.Modalities)
	r.Capabilities.Authentication.Methods = orEmpty(r.Capabilities.Authentication.Methods)
	r.Capabilities.Authentication.RequiredScopes = orEmpty(r.Capabilities.Authentication.RequiredScopes)
	if r.Skills == nil {
		r.Skills = []Skill{}
	}
	for i := range r.Skills {
		r.Skills[i].InputModes = orEmpty(r.Skills[i].InputModes)
		r.Skills[i].OutputModes = orEmpty(r.Skills[i].OutputModes)
		r.Skills[i].SupportedLanguages = orEmpty(r.Skills[i].SupportedLanguages)
	}
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

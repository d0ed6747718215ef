package registry

import "time"

// Provider identifies the organisation operating an agent.
type Provider struct {
	Name string `json:"name" bson:"name"`
	URL  string `json:"url" bson:"url"`
	DID  string `json:"did" bson:"did"`
}

// AdaptiveResolver points at a resolver that picks endpoints by policy.
type AdaptiveResolver struct {
	URL      string   `json:"url" bson:"url"`
	Policies []string `json:"policies" bson:"policies"`
}

// Endpoints lists where an agent can be reached.
type Endpoints struct {
	Static           []string         `json:"static" bson:"static"`
	AdaptiveResolver AdaptiveResolver `json:"adaptive_resolver" bson:"adaptive_resolver"`
}

// Authentication describes how callers authenticate against the agent.
type Authentication struct {
	Methods        []string `json:"methods" bson:"methods"`
	RequiredScopes []string `json:"requiredScopes" bson:"requiredScopes"`
}

// Capabilities summarises the interaction modes an agent supports.
type Capabilities struct {
	Modalities     []string       `json:"modalities" bson:"modalities"`
	Streaming      bool           `json:"streaming" bson:"streaming"`
	Batch          bool           `json:"batch" bson:"batch"`
	Authentication Authentication `json:"authentication" bson:"authentication"`
}

// Skill is a single advertised agent skill.
type Skill struct {
	ID                 string   `json:"id" bson:"id"`
	Description        string   `json:"description" bson:"description"`
	InputModes         []string `json:"inputModes" bson:"inputModes"`
	OutputModes        []string `json:"outputModes" bson:"outputModes"`
	SupportedLanguages []string `json:"supportedLanguages" bson:"supportedLanguages"`
}

// Evaluations carries third-party quality and audit information.
type Evaluations struct {
	PerformanceScore float64 `json:"performanceScore" bson:"performanceScore"`
	Availability90d  string  `json:"availability90d" bson:"availability90d"`
	LastAudited      string  `json:"lastAudited" bson:"lastAudited"`
	AuditTrail       string  `json:"auditTrail" bson:"auditTrail"`
	AuditorID        string  `json:"auditorID" bson:"auditorID"`
}

// Telemetry describes the agent's telemetry policy.
type Telemetry struct {
	Enabled   bool    `json:"enabled" bson:"enabled"`
	Retention string  `json:"retention" bson:"retention"`
	Sampling  float64 `json:"sampling" bson:"sampling"`
}

// Certification is stored as supplied; it is never verified.
type Certification struct {
	Level          string `json:"level" bson:"level"`
	Issuer         string `json:"issuer" bson:"issuer"`
	IssuanceDate   string `json:"issuanceDate" bson:"issuanceDate"`
	ExpirationDate string `json:"expirationDate" bson:"expirationDate"`
}

// Record is a registry entry ("agent fact") as seen by its owner.
type Record struct {
	ID               string        `json:"id" bson:"id"`
	Username         string        `json:"username" bson:"username"`
	OwnerID          string        `json:"userId" bson:"userId"`
	AgentName        string        `json:"agent_name" bson:"agent_name"`
	Label            string        `json:"label" bson:"label"`
	Description      string        `json:"description" bson:"description"`
	Version          string        `json:"version" bson:"version"`
	DocumentationURL string        `json:"documentationUrl" bson:"documentationUrl"`
	Jurisdiction     string        `json:"jurisdiction" bson:"jurisdiction"`
	Provider         Provider      `json:"provider" bson:"provider"`
	Endpoints        Endpoints     `json:"endpoints" bson:"endpoints"`
	Capabilities     Capabilities  `json:"capabilities" bson:"capabilities"`
	Skills           []Skill       `json:"skills" bson:"skills"`
	Evaluations      Evaluations   `json:"evaluations" bson:"evaluations"`
	Telemetry        Telemetry     `json:"telemetry" bson:"telemetry"`
	Certification    Certification `json:"certification" bson:"certification"`
	IsPublic         bool          `json:"isPublic" bson:"isPublic"`
	CreatedAt        time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" bson:"updated_at"`
}

// PublicRecord is the anonymous projection of a Record. It omits the owner,
// the username and the visibility flag.
type PublicRecord struct {
	ID               string        `json:"id"`
	AgentName        string        `json:"agent_name"`
	Label            string        `json:"label"`
	Description      string        `json:"description"`
	Version          string        `json:"version"`
	DocumentationURL string        `json:"documentationUrl"`
	Jurisdiction     string        `json:"jurisdiction"`
	Provider         Provider      `json:"provider"`
	Endpoints        Endpoints     `json:"endpoints"`
	Capabilities     Capabilities  `json:"capabilities"`
	Skills           []Skill       `json:"skills"`
	Evaluations      Evaluations   `json:"evaluations"`
	Telemetry        Telemetry     `json:"telemetry"`
	Certification    Certification `json:"certification"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Public returns the anonymous projection of r.
func (r Record) Public() PublicRecord {
	return PublicRecord{
		ID:               r.ID,
		AgentName:        r.AgentName,
		Label:            r.Label,
		Description:      r.Description,
		Version:          r.Version,
		DocumentationURL: r.DocumentationURL,
		Jurisdiction:     r.Jurisdiction,
		Provider:         r.Provider,
		Endpoints:        r.Endpoints,
		Capabilities:     r.Capabilities,
		Skills:           r.Skills,
		Evaluations:      r.Evaluations,
		Telemetry:        r.Telemetry,
		Certification:    r.Certification,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

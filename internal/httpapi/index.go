package httpapi

import "net/http"

type apiIndex struct {
	Name             string                       `json:"name"`
	Version          string                       `json:"version"`
	Description      string                       `json:"description"`
	Endpoints        map[string]map[string]string `json:"endpoints"`
	RegistryProtocol registryProtocol             `json:"registry_protocol"`
}

type registryProtocol struct {
	DiscoveryPattern string `json:"discovery_pattern"`
	ContentType      string `json:"content_type"`
	Format           string `json:"format"`
}

func (a *API) handleIndex(w http.ResponseWriter, r *http.Request) {
	base := a.baseURL
	if base == "" {
		base = "https://list39.org"
	}
	writeJSON(w, http.StatusOK, apiIndex{
		Name:        "List39 Agent Facts Registry API",
		Version:     a.version,
		Description: "Open agent identity infrastructure for the agentic web",
		Endpoints: map[string]map[string]string{
			"public": {
				"GET /@{username}.json": "Get public agent facts in JSON format",
				"GET /@{username}":      "Get public agent facts in HTML format",
			},
			"authentication": {
				"GET /auth/google":          "Initiate Google OAuth login",
				"GET /auth/google/callback": "Google OAuth callback",
				"GET /auth/logout":          "Logout user",
				"GET /auth/user":            "Get current user information",
			},
			"agent_management": {
				"GET /api/agentfacts":         "List user's agent facts (authenticated)",
				"GET /api/agentfacts/{id}":    "Get one of the user's agent facts (authenticated)",
				"POST /api/agentfacts":        "Create new agent fact (authenticated)",
				"PUT /api/agentfacts/{id}":    "Update agent fact (authenticated)",
				"DELETE /api/agentfacts/{id}": "Delete agent fact (authenticated)",
			},
		},
		RegistryProtocol: registryProtocol{
			DiscoveryPattern: base + "/@{username}.json",
			ContentType:      "application/json",
			Format:           "Standardized agent metadata schema",
		},
	})
}

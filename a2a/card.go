package a2a

// ProtocolVersion is the protocol revision advertised in agent cards.
const ProtocolVersion = "0.2.6"

// AgentProvider identifies the organization operating an agent.
type AgentProvider struct {
	Organization string `json:"organization" yaml:"organization"`
	URL          string `json:"url" yaml:"url"`
}

// AgentExtension declares a protocol extension supported by an agent.
type AgentExtension struct {
	URI         string         `json:"uri" yaml:"uri"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool           `json:"required,omitempty" yaml:"required,omitempty"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// AgentCapabilities lists optional protocol features.
type AgentCapabilities struct {
	Streaming              bool             `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	PushNotifications      bool             `json:"pushNotifications,omitempty" yaml:"pushNotifications,omitempty"`
	StateTransitionHistory bool             `json:"stateTransitionHistory,omitempty" yaml:"stateTransitionHistory,omitempty"`
	Extensions             []AgentExtension `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// AgentSkill describes one thing the agent can do.
type AgentSkill struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Tags        []string `json:"tags" yaml:"tags"`
	Examples    []string `json:"examples,omitempty" yaml:"examples,omitempty"`
	InputModes  []string `json:"inputModes,omitempty" yaml:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty" yaml:"outputModes,omitempty"`
}

// OAuthFlow is a single OAuth 2.0 flow description.
type OAuthFlow struct {
	AuthorizationURL string            `json:"authorizationUrl,omitempty" yaml:"authorizationUrl,omitempty"`
	TokenURL         string            `json:"tokenUrl,omitempty" yaml:"tokenUrl,omitempty"`
	RefreshURL       string            `json:"refreshUrl,omitempty" yaml:"refreshUrl,omitempty"`
	Scopes           map[string]string `json:"scopes" yaml:"scopes"`
}

// OAuthFlows groups the OAuth 2.0 flows a scheme supports.
type OAuthFlows struct {
	AuthorizationCode *OAuthFlow `json:"authorizationCode,omitempty" yaml:"authorizationCode,omitempty"`
	ClientCredentials *OAuthFlow `json:"clientCredentials,omitempty" yaml:"clientCredentials,omitempty"`
	Implicit          *OAuthFlow `json:"implicit,omitempty" yaml:"implicit,omitempty"`
	Password          *OAuthFlow `json:"password,omitempty" yaml:"password,omitempty"`
}

// Security scheme types.
const (
	SecuritySchemeAPIKey        = "apiKey"
	SecuritySchemeHTTP          = "http"
	SecuritySchemeOAuth2        = "oauth2"
	SecuritySchemeOpenIDConnect = "openIdConnect"
)

// SecurityScheme is an OpenAPI-style security scheme. Type selects which
// members are meaningful.
type SecurityScheme struct {
	Type             string      `json:"type" yaml:"type"`
	Description      string      `json:"description,omitempty" yaml:"description,omitempty"`
	Name             string      `json:"name,omitempty" yaml:"name,omitempty"`
	In               string      `json:"in,omitempty" yaml:"in,omitempty"`
	Scheme           string      `json:"scheme,omitempty" yaml:"scheme,omitempty"`
	BearerFormat     string      `json:"bearerFormat,omitempty" yaml:"bearerFormat,omitempty"`
	Flows            *OAuthFlows `json:"flows,omitempty" yaml:"flows,omitempty"`
	OpenIDConnectURL string      `json:"openIdConnectUrl,omitempty" yaml:"openIdConnectUrl,omitempty"`
}

// AgentInterface is an additional transport endpoint for the agent.
type AgentInterface struct {
	URL       string `json:"url" yaml:"url"`
	Transport string `json:"transport" yaml:"transport"`
}

// AgentCard is the self-describing document served at the well-known path.
type AgentCard struct {
	ProtocolVersion                   string                    `json:"protocolVersion" yaml:"protocolVersion"`
	Name                              string                    `json:"name" yaml:"name"`
	Description                       string                    `json:"description" yaml:"description"`
	URL                               string                    `json:"url" yaml:"url"`
	PreferredTransport                string                    `json:"preferredTransport,omitempty" yaml:"preferredTransport,omitempty"`
	AdditionalInterfaces              []AgentInterface          `json:"additionalInterfaces,omitempty" yaml:"additionalInterfaces,omitempty"`
	IconURL                           string                    `json:"iconUrl,omitempty" yaml:"iconUrl,omitempty"`
	Provider                          *AgentProvider            `json:"provider,omitempty" yaml:"provider,omitempty"`
	Version                           string                    `json:"version" yaml:"version"`
	DocumentationURL                  string                    `json:"documentationUrl,omitempty" yaml:"documentationUrl,omitempty"`
	Capabilities                      AgentCapabilities         `json:"capabilities" yaml:"capabilities"`
	SecuritySchemes                   map[string]SecurityScheme `json:"securitySchemes,omitempty" yaml:"securitySchemes,omitempty"`
	Security                          []map[string][]string     `json:"security,omitempty" yaml:"security,omitempty"`
	DefaultInputModes                 []string                  `json:"defaultInputModes" yaml:"defaultInputModes"`
	DefaultOutputModes                []string                  `json:"defaultOutputModes" yaml:"defaultOutputModes"`
	Skills                            []AgentSkill              `json:"skills" yaml:"skills"`
	SupportsAuthenticatedExtendedCard bool                      `json:"supportsAuthenticatedExtendedCard,omitempty" yaml:"supportsAuthenticatedExtendedCard,omitempty"`
}

package extend

const (
	configType    = "EXTRACT"
	baseProcessor = "extraction_performance"
	baseVersion   = "4.6.0"
)

// ExtractConfig is the processor configuration sent with every run.
type ExtractConfig struct {
	Type            string          `json:"type"`
	BaseProcessor   string          `json:"baseProcessor"`
	BaseVersion     string          `json:"baseVersion"`
	Schema          ObjectSchema    `json:"schema"`
	AdvancedOptions AdvancedOptions `json:"advancedOptions"`
}

// ObjectSchema is the JSON schema of the object the processor should return.
type ObjectSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one extracted field. Type is either a single JSON type
// name or a list of them.
type Property struct {
	Type        any      `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	ExtendType  string   `json:"extend:type,omitempty"`
}

type AdvancedOptions struct {
	CitationsEnabled bool `json:"citationsEnabled"`
}

// NullableString is the property type used for optional text fields.
var NullableString = []string{"string", "null"}

// NewExtractConfig wraps the given properties in the standard extraction
// processor configuration.
func NewExtractConfig(properties map[string]Property, required ...string) *ExtractConfig {
	if properties == nil {
		properties = map[string]Property{}
	}
	return &ExtractConfig{
		Type:          configType,
		BaseProcessor: baseProcessor,
		BaseVersion:   baseVersion,
		Schema: ObjectSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
		AdvancedOptions: AdvancedOptions{CitationsEnabled: true},
	}
}

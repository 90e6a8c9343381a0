package schema

// Role is the sender/recipient of a sampling or prompt message.
type Role = string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Annotations carry optional audience/priority hints for a piece of content.
type Annotations struct {
	Audience []Role   `json:"audience,omitempty"`
	Priority *float64 `json:"priority,omitempty"`
}

// ResourceContents is the body of a resource, either text or base64 blob.
type ResourceContents struct {
	URI      string  `json:"uri"`
	MimeType string  `json:"mimeType,omitempty"`
	Text     *string `json:"text,omitempty"`
	Blob     *string `json:"blob,omitempty"`
}

// Content is a tagged union over text/image/audio/resource content blocks,
// flattened into one struct (Go has no sum type cheap enough to justify
// anything else here).
type Content struct {
	Type        string            `json:"type"`
	Annotations *Annotations      `json:"annotations,omitempty"`
	Text        *string           `json:"text,omitempty"`
	Data        *string           `json:"data,omitempty"`
	MimeType    *string           `json:"mimeType,omitempty"`
	Resource    *ResourceContents `json:"resource,omitempty"`
}

func NewTextContent(text string) []Content {
	return []Content{{Type: "text", Text: &text}}
}

func NewImageContent(data, mimeType string) []Content {
	return []Content{{Type: "image", Data: &data, MimeType: &mimeType}}
}

func NewAudioContent(data, mimeType string) []Content {
	return []Content{{Type: "audio", Data: &data, MimeType: &mimeType}}
}

func NewResourceContent(r ResourceContents) []Content {
	return []Content{{Type: "resource", Resource: &r}}
}

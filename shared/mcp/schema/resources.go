package schema

// Resource describes a resource the server is capable of reading.
type Resource struct {
	Annotations *Annotations `json:"annotations,omitempty"`
	URI         string       `json:"uri"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	MimeType    string       `json:"mimeType,omitempty"`
}

type ResourceTemplate struct {
	Annotations *Annotations `json:"annotations,omitempty"`
	URITemplate string       `json:"uriTemplate"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	MimeType    string       `json:"mimeType,omitempty"`
}

type ResourceReference struct {
	Type string `json:"type"` // const: "ref/resource"
	URI  string `json:"uri"`
}

type ListResourcesRequestParams struct {
	PaginatedRequestParams
}

type ListResourcesRequest struct {
	Method string                     `json:"method"`
	Params ListResourcesRequestParams `json:"params,omitempty"`
}

type ListResourcesResult struct {
	PaginatedResult
	Meta      Meta       `json:"_meta,omitempty"`
	Resources []Resource `json:"resources"`
}

type ListResourceTemplatesRequestParams struct {
	PaginatedRequestParams
}

type ListResourceTemplatesRequest struct {
	Method string                             `json:"method"`
	Params ListResourceTemplatesRequestParams `json:"params,omitempty"`
}

type ListResourceTemplatesResult struct {
	PaginatedResult
	Meta              Meta               `json:"_meta,omitempty"`
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

type ReadResourceRequestParams struct {
	URI string `json:"uri"`
}

type ReadResourceRequest struct {
	Method string                    `json:"method"`
	Params ReadResourceRequestParams `json:"params"`
}

type ReadResourceResult struct {
	Meta     Meta               `json:"_meta,omitempty"`
	Contents []ResourceContents `json:"contents"`
}

type ResourceListChangedNotification struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type SubscribeRequestParams struct {
	URI string `json:"uri"`
}

type SubscribeRequest struct {
	Method string                 `json:"method"`
	Params SubscribeRequestParams `json:"params"`
}

type UnsubscribeRequestParams struct {
	URI string `json:"uri"`
}

type UnsubscribeRequest struct {
	Method string                   `json:"method"`
	Params UnsubscribeRequestParams `json:"params"`
}

type ResourceUpdatedNotificationParams struct {
	URI string `json:"uri"`
}

func (p *ResourceUpdatedNotificationParams) AsMap() map[string]interface{} {
	return map[string]interface{}{"uri": p.URI}
}

type ResourceUpdatedNotification struct {
	Method string                            `json:"method"`
	Params ResourceUpdatedNotificationParams `json:"params"`
}

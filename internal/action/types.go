// Package action fetches Solana Action descriptors and exposes them as
// invocable components.
package action

// Descriptor is the GET response of an action endpoint.
type Descriptor struct {
	Icon        string           `json:"icon"`
	Label       string           `json:"label"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Disabled    bool             `json:"disabled,omitempty"`
	Error       *DescriptorError `json:"error,omitempty"`
	Links       *Links           `json:"links,omitempty"`
}

// DescriptorError is a server-declared error shown instead of the action.
type DescriptorError struct {
	Message string `json:"message"`
}

// Links lists the linked actions of a descriptor.
type Links struct {
	Actions []LinkedAction `json:"actions"`
}

// LinkedAction is one invocable operation declared by a descriptor.
// Href may contain {name} placeholders for its parameters.
type LinkedAction struct {
	Href       string      `json:"href"`
	Label      string      `json:"label"`
	Parameters []Parameter `json:"parameters,omitempty"`
}

// Parameter is a user-supplied input of a linked action.
type Parameter struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// PostRequest is the body of a transaction request.
type PostRequest struct {
	Account string `json:"account"`
}

// PostResponse is a successful transaction response.
type PostResponse struct {
	Transaction string `json:"transaction"`
	Message     string `json:"message,omitempty"`
}

package domain

// EndpointHandle references a deployed scoring target. A handle with an empty
// ResourceName is not usable.
type EndpointHandle struct {
	DisplayName  string `json:"display_name"`
	ResourceName string `json:"resource_name"`
}

func (h EndpointHandle) IsZero() bool {
	return h.ResourceName == ""
}

type DatasetRef struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

type ModelArtifact struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

package models

import "encoding/json"

// Resource types accepted by the gateway.
const (
	ResourceTypeGitHub = "github"
	ResourceTypePDF    = "pdf"
)

// ResourceEvent is the database-change event that triggers a job.
// It arrives on the resource intake topic.
type ResourceEvent struct {
	ID           string          `json:"id"`
	JobID        string          `json:"job_id"`
	ResourceType string          `json:"resource_type"`
	ResourceData json.RawMessage `json:"resource_data"`
	Prompt       string          `json:"prompt,omitempty"`
	Model        string          `json:"model,omitempty"`
	CreatedAt    string          `json:"created_at,omitempty"`
	UpdatedAt    string          `json:"updated_at,omitempty"`
}

// DecodeResource unmarshals the type-specific resource_data payload.
func (e *ResourceEvent) DecodeResource(v any) error {
	return json.Unmarshal(e.ResourceData, v)
}

// GitHubResource is the resource_data payload for github events.
type GitHubResource struct {
	Owner    string `json:"owner"`
	RepoName string `json:"repo_name"`
}

// PDFResource is the resource_data payload for pdf events.
type PDFResource struct {
	PDFURL         string `json:"pdf_url"`
	CollectionName string `json:"collection_name"`
}

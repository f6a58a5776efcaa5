package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceEventDecodeResource(t *testing.T) {
	event := ResourceEvent{
		JobID:        "job-1",
		ResourceType: ResourceTypeGitHub,
		ResourceData: json.RawMessage(`{"owner":"octocat","repo_name":"hello-world"}`),
	}

	var repo GitHubResource
	require.NoError(t, event.DecodeResource(&repo))
	assert.Equal(t, "octocat", repo.Owner)
	assert.Equal(t, "hello-world", repo.RepoName)
}

func TestResourceEventDecodeResource_PDF(t *testing.T) {
	event := ResourceEvent{
		JobID:        "job-2",
		ResourceType: ResourceTypePDF,
		ResourceData: json.RawMessage(`{"pdf_url":"https://example.com/report.pdf","collection_name":"reports"}`),
	}

	var doc PDFResource
	require.NoError(t, event.DecodeResource(&doc))
	assert.Equal(t, "https://example.com/report.pdf", doc.PDFURL)
	assert.Equal(t, "reports", doc.CollectionName)
}

func TestResourceEventDecodeResource_Malformed(t *testing.T) {
	event := ResourceEvent{ResourceData: json.RawMessage(`"not an object`)}

	var repo GitHubResource
	assert.Error(t, event.DecodeResource(&repo))
}

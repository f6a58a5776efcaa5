package models

// FileInfo describes a single file touched by a commit.
type FileInfo struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	Patch     string `json:"patch,omitempty"`
}

// CommitData is the normalized form of a fetched repository commit.
type CommitData struct {
	Author   string     `json:"author"`
	Message  string     `json:"message"`
	Date     string     `json:"date"`
	URL      string     `json:"url"`
	RepoName string     `json:"repo_name"`
	CommitID string     `json:"commit_id"`
	Files    []FileInfo `json:"files"`
}

package githubfetch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/marcwadey/granary/internal/models"
)

// Options configure the GitHub fetch service.
type Options struct {
	Token             string
	MaxCommits        int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Service fetches commit history with per-file diffs for a repository
// and emits one chunk per changed file. The commit list endpoint does
// not include file patches, so each commit is fetched individually;
// the rate limiter keeps that burst inside GitHub's secondary limits.
type Service struct {
	client     *github.Client
	limiter    *rate.Limiter
	maxCommits int
	timeout    time.Duration
	logger     arbor.ILogger
}

// NewService creates the GitHub fetch service. An empty token falls
// back to unauthenticated requests (useful for tests against public
// repositories, subject to much lower rate limits).
func NewService(opts Options, logger arbor.ILogger) *Service {
	var client *github.Client
	if opts.Token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: opts.Token},
		)
		tc := oauth2.NewClient(context.Background(), ts)
		client = github.NewClient(tc)
	} else {
		client = github.NewClient(nil)
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	maxCommits := opts.MaxCommits
	if maxCommits <= 0 {
		maxCommits = 100
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Service{
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxCommits: maxCommits,
		timeout:    timeout,
		logger:     logger,
	}
}

// Name returns the fetch step type.
func (s *Service) Name() models.StepType {
	return models.StepTypeFetch
}

// Process fetches commits for the repository named in the resource
// event and emits a single envelope whose payload is the flattened
// list of per-file chunks.
func (s *Service) Process(ctx context.Context, msg *models.Envelope) ([]*models.Envelope, error) {
	var event models.ResourceEvent
	if err := msg.DecodeData(&event); err != nil {
		return nil, fmt.Errorf("failed to decode resource event: %w", err)
	}

	var repo models.GitHubResource
	if err := event.DecodeResource(&repo); err != nil {
		return nil, fmt.Errorf("failed to decode github resource: %w", err)
	}
	if repo.Owner == "" || repo.RepoName == "" {
		return nil, fmt.Errorf("github resource requires owner and repo_name")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	commits, err := s.fetchCommits(fetchCtx, repo.Owner, repo.RepoName)
	if err != nil {
		return nil, err
	}

	collection := fmt.Sprintf("%s_%s", repo.Owner, repo.RepoName)
	chunks := make([]models.Chunk, 0, len(commits))
	for _, commit := range commits {
		for _, file := range commit.Files {
			if file.Patch == "" {
				continue
			}
			chunks = append(chunks, models.Chunk{
				Content: file.Patch,
				Metadata: map[string]any{
					"commit_id":               commit.CommitID,
					"filename":                file.Filename,
					"status":                  file.Status,
					"repo_name":               commit.RepoName,
					"author":                  commit.Author,
					"date":                    commit.Date,
					"url":                     commit.URL,
					models.MetaCollectionName: collection,
				},
			})
		}
	}

	s.logger.Info().
		Str("job_id", msg.JobID).
		Str("owner", repo.Owner).
		Str("repo", repo.RepoName).
		Int("commits", len(commits)).
		Int("chunks", len(chunks)).
		Msg("Fetched repository commits")

	out := msg.Next()
	out.StepNumber = msg.StepNumber
	if err := out.SetData(chunks); err != nil {
		return nil, err
	}
	out.SetMeta(models.MetaCollectionName, collection)
	out.SetMeta(models.MetaChunkCount, len(chunks))
	return []*models.Envelope{out}, nil
}

// fetchCommits lists commits and then fetches each one to obtain its
// per-file patches. A missing repository surfaces as an error so the
// job's fetch step reads FAILED.
func (s *Service) fetchCommits(ctx context.Context, owner, repoName string) ([]models.CommitData, error) {
	var all []models.CommitData

	opts := &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for len(all) < s.maxCommits {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}

		commits, resp, err := s.client.Repositories.ListCommits(ctx, owner, repoName, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list commits for %s/%s: %w", owner, repoName, err)
		}

		for _, c := range commits {
			if len(all) >= s.maxCommits {
				break
			}
			data, err := s.fetchCommit(ctx, owner, repoName, c.GetSHA())
			if err != nil {
				return nil, err
			}
			all = append(all, *data)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// fetchCommit fetches one commit including its file diffs.
func (s *Service) fetchCommit(ctx context.Context, owner, repoName, sha string) (*models.CommitData, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	commit, _, err := s.client.Repositories.GetCommit(ctx, owner, repoName, sha, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", sha, err)
	}

	data := &models.CommitData{
		Author:   commit.GetCommit().GetAuthor().GetName(),
		Message:  commit.GetCommit().GetMessage(),
		URL:      commit.GetHTMLURL(),
		RepoName: repoName,
		CommitID: commit.GetSHA(),
	}
	if date := commit.GetCommit().GetAuthor().GetDate(); !date.IsZero() {
		data.Date = date.Format(time.RFC3339)
	}

	for _, f := range commit.Files {
		data.Files = append(data.Files, models.FileInfo{
			Filename:  f.GetFilename(),
			Status:    f.GetStatus(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
			Changes:   f.GetChanges(),
			Patch:     f.GetPatch(),
		})
	}

	return data, nil
}

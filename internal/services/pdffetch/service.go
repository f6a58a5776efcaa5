package pdffetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/models"
)

// Options configure the PDF fetch service.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	MaxBodySize  int64
	Timeout      time.Duration
	TempDir      string
}

// Service downloads a PDF, extracts its text page by page, and splits
// it into overlapping chunks for the summarization stage. pdfcpu has
// no byte-slice extraction API, so the document goes through a temp
// file.
type Service struct {
	client      *http.Client
	splitter    *Splitter
	maxBodySize int64
	tempDir     string
	logger      arbor.ILogger
}

// NewService creates the PDF fetch service.
func NewService(opts Options, logger arbor.ILogger) *Service {
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = 64 << 20
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "granary-pdf")
	}
	os.MkdirAll(tempDir, 0755)

	return &Service{
		client:      &http.Client{Timeout: timeout},
		splitter:    NewSplitter(opts.ChunkSize, opts.ChunkOverlap),
		maxBodySize: maxBody,
		tempDir:     tempDir,
		logger:      logger,
	}
}

// Name returns the fetch step type.
func (s *Service) Name() models.StepType {
	return models.StepTypeFetch
}

// Process downloads the PDF named in the resource event and emits a
// single envelope carrying the ordered chunk list.
func (s *Service) Process(ctx context.Context, msg *models.Envelope) ([]*models.Envelope, error) {
	var event models.ResourceEvent
	if err := msg.DecodeData(&event); err != nil {
		return nil, fmt.Errorf("failed to decode resource event: %w", err)
	}

	var doc models.PDFResource
	if err := event.DecodeResource(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode pdf resource: %w", err)
	}
	if doc.PDFURL == "" {
		return nil, fmt.Errorf("pdf resource requires pdf_url")
	}
	collection := doc.CollectionName
	if collection == "" {
		collection = "pdf_documents"
	}

	content, err := s.download(ctx, doc.PDFURL)
	if err != nil {
		return nil, err
	}

	pages, err := s.extractPages(content)
	if err != nil {
		return nil, err
	}

	var chunks []models.Chunk
	for pageNum, text := range pages {
		for i, piece := range s.splitter.Split(text) {
			chunks = append(chunks, models.Chunk{
				Content: piece,
				Metadata: map[string]any{
					"pdf_url":                 doc.PDFURL,
					"page":                    pageNum + 1,
					"chunk_index":             i,
					models.MetaCollectionName: collection,
				},
			})
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text extracted from %s", doc.PDFURL)
	}

	s.logger.Info().
		Str("job_id", msg.JobID).
		Str("pdf_url", doc.PDFURL).
		Int("pages", len(pages)).
		Int("chunks", len(chunks)).
		Msg("Extracted PDF content")

	out := msg.Next()
	out.StepNumber = msg.StepNumber
	if err := out.SetData(chunks); err != nil {
		return nil, err
	}
	out.SetMeta(models.MetaCollectionName, collection)
	out.SetMeta(models.MetaChunkCount, len(chunks))
	return []*models.Envelope{out}, nil
}

// download fetches the PDF over HTTP with a size cap.
func (s *Service) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d downloading %s", resp.StatusCode, url)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	if int64(len(content)) > s.maxBodySize {
		return nil, fmt.Errorf("pdf at %s exceeds size limit of %d bytes", url, s.maxBodySize)
	}
	return content, nil
}

// extractPages writes the PDF to a temp file and extracts per-page
// text with pdfcpu. Returns pages in order; pages without extractable
// text are empty strings.
func (s *Service) extractPages(content []byte) ([]string, error) {
	tempFile := filepath.Join(s.tempDir, fmt.Sprintf("fetch_%d_%d.pdf", os.Getpid(), time.Now().UnixNano()))
	if err := os.WriteFile(tempFile, content, 0644); err != nil {
		return nil, fmt.Errorf("failed to write temp PDF file: %w", err)
	}
	defer os.Remove(tempFile)

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	pageCount := pdfCtx.PageCount

	outDir := tempFile + ".pages"
	os.MkdirAll(outDir, 0755)
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return nil, fmt.Errorf("failed to extract PDF content: %w", err)
	}

	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(data)
		} else if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(data)
		}
	}

	pages := make([]string, pageCount)
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		pages[pageNum-1] = strings.TrimSpace(pageTexts[pageNum])
	}
	return pages, nil
}

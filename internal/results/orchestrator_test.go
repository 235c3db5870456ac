package results_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmalhotra/docwatch/internal/docling"
	"github.com/nmalhotra/docwatch/internal/results"
	"github.com/nmalhotra/docwatch/pkg/models"
)

type fakeClient struct {
	mu            sync.Mutex
	resultCalls   int
	downloadCalls int
	resultFunc    func(jobID string) (*models.ResultDocument, error)
	downloadFunc  func(jobID string, format models.Format) ([]byte, string, error)
}

func (f *fakeClient) Result(_ context.Context, jobID string) (*models.ResultDocument, error) {
	f.mu.Lock()
	f.resultCalls++
	f.mu.Unlock()
	return f.resultFunc(jobID)
}

func (f *fakeClient) Download(_ context.Context, jobID string, format models.Format) ([]byte, string, error) {
	f.mu.Lock()
	f.downloadCalls++
	f.mu.Unlock()
	return f.downloadFunc(jobID, format)
}

func (f *fakeClient) Submit(context.Context, string) (*models.UploadReceipt, error) {
	return nil, nil
}
func (f *fakeClient) Status(context.Context, string) (*models.StatusSnapshot, error) {
	return nil, nil
}
func (f *fakeClient) ListJobs(context.Context, int, int, string) (*models.JobPage, error) {
	return nil, nil
}
func (f *fakeClient) CancelJob(context.Context, string) error { return nil }
func (f *fakeClient) Health(context.Context) error            { return nil }

var _ docling.Client = (*fakeClient)(nil)

func doc(jobID, filename string) *models.ResultDocument {
	return &models.ResultDocument{
		JobID:            jobID,
		OriginalFilename: filename,
		Content:          models.ProcessedContent{Markdown: "# hi"},
	}
}

func TestFetch_CachesPerJobID(t *testing.T) {
	client := &fakeClient{
		resultFunc: func(jobID string) (*models.ResultDocument, error) {
			return doc(jobID, "report.pdf"), nil
		},
	}
	o := results.New(client)

	first, err := o.Fetch(context.Background(), "J1")
	require.NoError(t, err)

	// A duplicate completion observation must not hit the service again.
	second, err := o.Fetch(context.Background(), "J1")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, client.resultCalls)
}

func TestFetch_NewJobIDEvictsOldEntry(t *testing.T) {
	client := &fakeClient{
		resultFunc: func(jobID string) (*models.ResultDocument, error) {
			return doc(jobID, "report.pdf"), nil
		},
	}
	o := results.New(client)

	_, err := o.Fetch(context.Background(), "J1")
	require.NoError(t, err)
	got, err := o.Fetch(context.Background(), "J2")
	require.NoError(t, err)
	assert.Equal(t, "J2", got.JobID)
	assert.Equal(t, 2, client.resultCalls)

	// J1 was evicted, so asking for it again refetches.
	_, err = o.Fetch(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, 3, client.resultCalls)
}

func TestFetch_NotReadyIsNotCached(t *testing.T) {
	ready := false
	client := &fakeClient{
		resultFunc: func(jobID string) (*models.ResultDocument, error) {
			if !ready {
				return nil, docling.ErrResultNotReady
			}
			return doc(jobID, "report.pdf"), nil
		},
	}
	o := results.New(client)

	_, err := o.Fetch(context.Background(), "J1")
	require.ErrorIs(t, err, docling.ErrResultNotReady)

	ready = true
	got, err := o.Fetch(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, "J1", got.JobID)
}

func TestDownload_WritesServiceSuggestedName(t *testing.T) {
	client := &fakeClient{
		downloadFunc: func(_ string, _ models.Format) ([]byte, string, error) {
			return []byte("<h1>hi</h1>"), "report.html", nil
		},
	}
	o := results.New(client)

	dir := t.TempDir()
	path, err := o.Download(context.Background(), "J1", models.FormatHTML, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.html"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", string(data))
}

func TestDownload_FallsBackToOriginalFilename(t *testing.T) {
	client := &fakeClient{
		resultFunc: func(jobID string) (*models.ResultDocument, error) {
			return doc(jobID, "quarterly report.pdf"), nil
		},
		downloadFunc: func(_ string, _ models.Format) ([]byte, string, error) {
			return []byte("# hi"), "", nil // no Content-Disposition
		},
	}
	o := results.New(client)

	_, err := o.Fetch(context.Background(), "J1")
	require.NoError(t, err)

	dir := t.TempDir()
	path, err := o.Download(context.Background(), "J1", models.FormatMarkdown, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "quarterly report.md"), path)
}

func TestDownload_UnknownJobUsesJobID(t *testing.T) {
	client := &fakeClient{
		downloadFunc: func(_ string, _ models.Format) ([]byte, string, error) {
			return []byte("{}"), "", nil
		},
	}
	o := results.New(client)

	dir := t.TempDir()
	path, err := o.Download(context.Background(), "J9", models.FormatJSON, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "J9.json"), path)
}

func TestDownload_AlwaysFresh(t *testing.T) {
	client := &fakeClient{
		downloadFunc: func(_ string, _ models.Format) ([]byte, string, error) {
			return []byte("# hi"), "r.md", nil
		},
	}
	o := results.New(client)

	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		_, err := o.Download(context.Background(), "J1", models.FormatMarkdown, dir)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, client.downloadCalls)
}

func TestDownload_NotReadyPropagates(t *testing.T) {
	client := &fakeClient{
		downloadFunc: func(_ string, _ models.Format) ([]byte, string, error) {
			return nil, "", docling.ErrResultNotReady
		},
	}
	o := results.New(client)

	_, err := o.Download(context.Background(), "J1", models.FormatMarkdown, t.TempDir())
	require.ErrorIs(t, err, docling.ErrResultNotReady)
	assert.Equal(t, 1, client.downloadCalls)
}

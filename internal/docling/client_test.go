package docling_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmalhotra/docwatch/internal/docling"
	"github.com/nmalhotra/docwatch/pkg/models"
)

func newClient(t *testing.T, handler http.Handler) *docling.HTTPClient {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return docling.NewHTTPClient(ts.URL, 5*time.Second, 0)
}

// writeTempFile creates a file with the given name and content under a test
// temp dir and returns its path.
func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- Submit ---

func TestSubmit_Success(t *testing.T) {
	var gotFilename string
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/upload", r.URL.Path)

		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		gotFilename = header.Filename

		json.NewEncoder(w).Encode(models.UploadReceipt{
			JobID:      "job-1",
			Filename:   header.Filename,
			FileSize:   header.Size,
			UploadTime: time.Now().UTC(),
		})
	}))

	path := writeTempFile(t, "report.html", "<h1>hello</h1>")
	receipt, err := client.Submit(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "job-1", receipt.JobID)
	assert.Equal(t, "report.html", gotFilename)
}

func TestSubmit_OversizeRejectedLocally(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	t.Cleanup(ts.Close)
	client := docling.NewHTTPClient(ts.URL, 5*time.Second, 16) // 16-byte ceiling

	path := writeTempFile(t, "big.html", "this is more than sixteen bytes of content")
	_, err := client.Submit(context.Background(), path)
	require.ErrorIs(t, err, docling.ErrFileTooLarge)
	assert.True(t, docling.IsValidation(err))
	assert.Equal(t, 0, requests, "validation failures must not reach the network")
}

func TestSubmit_UnsupportedExtension(t *testing.T) {
	requests := 0
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))

	path := writeTempFile(t, "notes.txt", "plain text")
	_, err := client.Submit(context.Background(), path)
	require.ErrorIs(t, err, docling.ErrUnsupportedType)
	assert.Equal(t, 0, requests)
}

func TestSubmit_PDFExtensionWithNonPDFContent(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	path := writeTempFile(t, "fake.pdf", "just some text pretending")
	_, err := client.Submit(context.Background(), path)
	require.ErrorIs(t, err, docling.ErrUnsupportedType)
}

func TestSubmit_ServerRejections(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   error
	}{
		{http.StatusRequestEntityTooLarge, docling.ErrFileTooLarge},
		{http.StatusUnsupportedMediaType, docling.ErrUnsupportedType},
		{http.StatusInternalServerError, docling.ErrTransport},
	} {
		client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		path := writeTempFile(t, "doc.html", "<p>ok</p>")
		_, err := client.Submit(context.Background(), path)
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
	}
}

func TestSubmit_MissingJobID(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"filename":"doc.html"}`))
	}))

	path := writeTempFile(t, "doc.html", "<p>ok</p>")
	_, err := client.Submit(context.Background(), path)
	require.ErrorIs(t, err, docling.ErrTransport)
}

// --- Status ---

func TestStatus_Success(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status/job-7", r.URL.Path)
		json.NewEncoder(w).Encode(models.StatusSnapshot{
			JobID:    "job-7",
			Status:   models.StatusProcessing,
			Progress: 40,
			Message:  "converting",
		})
	}))

	snap, err := client.Status(context.Background(), "job-7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, snap.Status)
	assert.Equal(t, 40, snap.Progress)
}

func TestStatus_NotFound(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.Status(context.Background(), "gone")
	require.ErrorIs(t, err, docling.ErrJobNotFound)
}

func TestStatus_ServerError(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.Status(context.Background(), "job-7")
	require.ErrorIs(t, err, docling.ErrTransport)
}

func TestStatus_UnknownStatusFailsClosed(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"job_id":"job-7","status":"exploded","progress":40}`))
	}))

	_, err := client.Status(context.Background(), "job-7")
	require.ErrorIs(t, err, docling.ErrTransport)
}

func TestStatus_MalformedBodyFailsClosed(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"job_id":`))
	}))

	_, err := client.Status(context.Background(), "job-7")
	require.ErrorIs(t, err, docling.ErrTransport)
}

func TestStatus_Unreachable(t *testing.T) {
	client := docling.NewHTTPClient("http://127.0.0.1:1", 500*time.Millisecond, 0)
	_, err := client.Status(context.Background(), "job-7")
	require.ErrorIs(t, err, docling.ErrTransport)
}

// --- Result / Download ---

func TestResult_Success(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/result/job-7", r.URL.Path)
		json.NewEncoder(w).Encode(models.ResultDocument{
			JobID:            "job-7",
			OriginalFilename: "report.pdf",
			Content: models.ProcessedContent{
				Markdown: "# Report",
				HTML:     "<h1>Report</h1>",
				JSON:     map[string]any{"pages": 3.0},
			},
			Metadata: models.DocumentMetadata{Pages: 3, ModelUsed: "granite-docling-258M"},
		})
	}))

	doc, err := client.Result(context.Background(), "job-7")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", doc.OriginalFilename)
	assert.Equal(t, "# Report", doc.Content.Markdown)
	assert.Equal(t, 3, doc.Metadata.Pages)
}

func TestResult_NotReady(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.Result(context.Background(), "job-7")
	require.ErrorIs(t, err, docling.ErrResultNotReady)
}

func TestDownload_Success(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/download/job-7", r.URL.Path)
		require.Equal(t, "markdown", r.URL.Query().Get("format"))
		w.Header().Set("Content-Disposition", `attachment; filename=report.md`)
		w.Write([]byte("# Report"))
	}))

	data, filename, err := client.Download(context.Background(), "job-7", models.FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "# Report", string(data))
	assert.Equal(t, "report.md", filename)
}

func TestDownload_InvalidFormatNoRequest(t *testing.T) {
	requests := 0
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))

	_, _, err := client.Download(context.Background(), "job-7", models.Format("xml"))
	require.ErrorIs(t, err, docling.ErrUnsupportedFormat)
	assert.Equal(t, 0, requests)
}

func TestDownload_NotReady(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, _, err := client.Download(context.Background(), "job-7", models.FormatJSON)
	require.ErrorIs(t, err, docling.ErrResultNotReady)
}

// --- ListJobs / CancelJob / Health ---

func TestListJobs(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/jobs", r.URL.Path)
		require.Equal(t, "2", r.URL.Query().Get("page"))
		require.Equal(t, "failed", r.URL.Query().Get("status"))
		json.NewEncoder(w).Encode(models.JobPage{
			Jobs:  []models.JobInfo{{JobID: "job-1", Status: models.StatusFailed}},
			Total: 11, Page: 2, PerPage: 10,
		})
	}))

	page, err := client.ListJobs(context.Background(), 2, 10, models.StatusFailed)
	require.NoError(t, err)
	assert.Len(t, page.Jobs, 1)
	assert.Equal(t, 11, page.Total)
}

func TestCancelJob_NotFound(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))

	err := client.CancelJob(context.Background(), "gone")
	require.ErrorIs(t, err, docling.ErrJobNotFound)
}

func TestHealth(t *testing.T) {
	healthy := true
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))

	require.NoError(t, client.Health(context.Background()))

	healthy = false
	require.ErrorIs(t, client.Health(context.Background()), docling.ErrTransport)
}

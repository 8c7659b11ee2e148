package reportengine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
)

func payload() gap.ReportPayload {
	return gap.ReportPayload{
		SessionID:     "s1",
		Email:         "ops@example.com",
		StorageTarget: "folder-9",
		Content:       map[string]string{"overview": "text"},
		Charts:        map[string]string{"hardware_tier": "https://drive.test/hw.png"},
		InputManifest: []gap.ManifestEntry{{FileName: "hw.xlsx"}},
	}
}

func TestGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate_market_reports", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Len(t, r.Header.Get("X-Request-ID"), 36)
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		io.WriteString(w, `{"report_urls":["https://r/a.pdf","https://r/b.docx"]}`)
	}))
	defer srv.Close()

	urls, err := NewClient(srv.URL+"/", time.Second).Generate(context.Background(), payload())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://r/a.pdf", "https://r/b.docx"}, urls)

	assert.Equal(t, "s1", got["session_id"])
	assert.Equal(t, "folder-9", got["folder_id"])
	assert.Equal(t, map[string]any{"hardware_tier": "https://drive.test/hw.png"}, got["charts"])
	assert.Equal(t, []any{map[string]any{"file_name": "hw.xlsx"}}, got["input_files"])
}

func TestGenerate_ErrorStatusIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "engine exploded")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Generate(context.Background(), payload())
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusInternalServerError, serr.Code)
	assert.Equal(t, "engine exploded", serr.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGenerate_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, 50*time.Millisecond).Generate(context.Background(), payload())
	assert.Error(t, err)
}

func TestGenerate_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	urls, err := NewClient(srv.URL, time.Second).Generate(context.Background(), payload())
	require.NoError(t, err)
	assert.Empty(t, urls)
}

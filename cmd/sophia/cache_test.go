package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sophia-ai/sophia/pkg/models"
)

func TestFormatCacheStats(t *testing.T) {
	out := formatCacheStats(models.CacheStats{TotalEntries: 1500, Hits: 3, Misses: 1, HitRate: 0.75})
	assert.Contains(t, out, "1,500")
	assert.Contains(t, out, "75.0%")
}

func TestCacheClearCommand(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		gotPath, gotQuery = r.URL.Path, r.URL.Query().Get("pattern")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"deleted":4}`))
	}))
	defer srv.Close()

	cmd := newCacheCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"clear", "--addr", srv.URL, "--pattern", "usage:"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "/v1/cache", gotPath)
	assert.Equal(t, "usage:", gotQuery)
	assert.Contains(t, out.String(), "Removed 4")
}

func TestCacheCommandReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"cache is disabled","type":"sophia_error","code":404}}`))
	}))
	defer srv.Close()

	cmd := newCacheCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"stats", "--addr", srv.URL})
	assert.ErrorContains(t, cmd.Execute(), "cache is disabled")
}

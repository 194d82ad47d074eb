package handlers

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahaib/ftex/internal/db"
	"github.com/sahaib/ftex/internal/ingest"
)

func TestHealthzWithoutDatabase(t *testing.T) {
	r := engine(newTestHandler(t, ingest.None{}))
	w, body := do(t, r, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["metrics_valid"])
}

func TestHealthzIntegration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	store, err := db.New(context.Background(), url)
	require.NoError(t, err)
	defer store.Close()

	h := newTestHandler(t, store)
	h.Store = store
	w, _ := do(t, engine(h), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

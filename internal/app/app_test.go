package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahaib/ftex/internal/ai"
	"github.com/sahaib/ftex/internal/config"
	"github.com/sahaib/ftex/internal/ingest"
	"github.com/sahaib/ftex/internal/service"
)

func TestNewWithTicketFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickets.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": 1, "subject": "Login error"}]`), 0o644))

	cfg := config.Config{
		CacheDir:       filepath.Join(dir, "cache"),
		CacheCompress:  "zstd",
		TicketsFile:    path,
		AssistantURL:   "http://localhost:9",
		AssistantModel: "test-model",
	}
	a, err := New(context.Background(), cfg, prometheus.NewRegistry(), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &ingest.FileSource{}, a.Source)
	assert.Nil(t, a.Store)
	assert.Nil(t, a.Processor.Runs)
	assert.IsType(t, ai.MockEnricher{}, a.Processor.Enricher)
	require.IsType(t, ai.AssistantCategorizer{}, a.Processor.Categorizer)
	assert.NotEmpty(t, a.Processor.Categorizer.(ai.AssistantCategorizer).Categories)

	tickets, err := a.Source.Tickets(context.Background())
	require.NoError(t, err)
	summary, err := a.Processor.ProcessTickets(context.Background(), tickets, service.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["analyzed"])
	assert.Equal(t, 1, a.Cache.Stats().TicketsCached)
}

func TestNewWithoutSource(t *testing.T) {
	a, err := New(context.Background(), config.Config{CacheDir: t.TempDir(), AIURL: "http://enrich"}, prometheus.NewRegistry(), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, ingest.None{}, a.Source)
	assert.Equal(t, "http", a.Processor.EnricherName)
	assert.Nil(t, a.Processor.Categorizer)
}

func TestNewRejectsUnknownCompression(t *testing.T) {
	_, err := New(context.Background(), config.Config{CacheDir: t.TempDir(), CacheCompress: "lz4"}, prometheus.NewRegistry(), zerolog.Nop())
	assert.ErrorContains(t, err, "lz4")
}

package main

import (
	"bytes"
	"context"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/config"
)

func TestIngestHelp(t *testing.T) {
	var out bytes.Buffer
	a := &app{
		cfg:    &config.AppConfig{Chunker: config.ChunkerConfig{Mode: "fixed", ChunkSize: 200, ChunkOverlap: 40}},
		out:    &out,
		errOut: &out,
	}

	err := a.ingest(context.Background(), []string{"-h"}, false)
	require.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, out.String(), "Chunk size in words")
	assert.Contains(t, out.String(), "Chunk overlap in words")
	assert.NotContains(t, out.String(), "characters")
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustlayer/trustlayer-guard/internal/config"
	"github.com/trustlayer/trustlayer-guard/internal/upstream"
)

func TestBuildRedactor_Layers(t *testing.T) {
	r, err := buildRedactor(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Classifiers())

	r, err = buildRedactor(&config.Config{
		NEREnabled: true, NERURL: "http://127.0.0.1:1",
		LLMEnabled: true, LLMURL: "http://127.0.0.1:1", LLMModel: "qwen3:4b",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Classifiers())
}

func TestBuildRedactor_PatternFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`recognizers:
  - name: employee_id
    entity: EMPLOYEE_ID
    pattern: '\bEMP-\d{6}\b'
`), 0o600))

	r, err := buildRedactor(&config.Config{PatternsFile: path})
	require.NoError(t, err)

	res, err := r.Redact(context.Background(), "badge EMP-123456 and ssn 123-45-6789")
	require.NoError(t, err)
	assert.Equal(t, "badge [EMPLOYEE_ID_1] and ssn 123-45-6789", res.Text)
}

func TestBuildRedactor_MissingPatternFile(t *testing.T) {
	_, err := buildRedactor(&config.Config{PatternsFile: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestBuildUpstream(t *testing.T) {
	assert.True(t, buildUpstream(&config.Config{UpstreamKey: "sk-mock-local"}).Mock())
	assert.False(t, buildUpstream(&config.Config{
		UpstreamURL: "http://127.0.0.1:1/v1", UpstreamKey: "sk-live", UpstreamModel: "gpt-3.5-turbo",
	}).Mock())
}

func TestRunServe_StopsOnCancel(t *testing.T) {
	cfg := &config.Config{
		ListenAddr:  "127.0.0.1:0",
		DataDir:     t.TempDir(),
		CORSOrigins: []string{"*"},
		UpstreamKey: upstream.MockKeyPrefix,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, runServe(ctx, cfg))
	assert.FileExists(t, cfg.AuditDBPath())
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ResearchPipeline/internal/domain"
)

func offlineEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RESEARCH_CONFIG", "")
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("SERPER_API_KEY", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
}

func TestRunCommandPrintsFallbackReport(t *testing.T) {
	offlineEnv(t)

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"run", "Acme", "--depth", "basic", "--log-level", "error"})

	require.NoError(t, root.ExecuteContext(context.Background()))

	var report domain.Report
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.Equal(t, "Acme", report.Metadata.Company)
	assert.Equal(t, domain.DefaultScore, report.Metadata.OverallScore)
}

func TestRunCommandRequiresCompany(t *testing.T) {
	offlineEnv(t)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run"})
	require.Error(t, root.ExecuteContext(context.Background()))
}

func TestRunCommandRejectsUnknownDepth(t *testing.T) {
	offlineEnv(t)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "Acme", "--depth", "extreme"})
	require.Error(t, root.ExecuteContext(context.Background()))
}

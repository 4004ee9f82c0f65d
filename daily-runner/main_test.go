package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/avidelta/nexus/internal/daily"
	"github.com/avidelta/nexus/internal/domain"
	"github.com/avidelta/nexus/internal/ledger"
)

// isolate points every path at a temp dir and clears integration secrets.
func isolate(t *testing.T) (ledgerDir, outputDir string) {
	t.Helper()
	root := t.TempDir()
	ledgerDir = filepath.Join(root, "runs")
	outputDir = filepath.Join(root, "out")
	t.Setenv("NEXUS_CONFIG", "")
	t.Setenv("NEXUS_LEDGER", "file")
	t.Setenv("NEXUS_LEDGER_DIR", ledgerDir)
	t.Setenv("OUTPUT_DIR", outputDir)
	t.Setenv("NOTES_SOURCE", filepath.Join(root, "notes"))
	t.Setenv("NEXTJS_JSON_PATH", "")
	t.Setenv("NEXUS_DEMO", "false")
	t.Setenv("NEXUS_DRY_RUN", "false")
	t.Setenv("NEXUS_TRIGGER", "scheduled")
	t.Setenv("NEXUS_STEP_ALLOW_FAILURE", "")
	t.Setenv("NEXUS_OBJECTSTORE_ENDPOINT", "")
	for _, key := range []string{
		"OPENAI_API_KEY", "GITHUB_TOKEN", "REPO_NAME", "GITHUB_REPO",
		"SLACK_WEBHOOK_URL", "SLACK_BOT_TOKEN", "SLACK_CHANNEL_ID",
		"NOTION_TOKEN", "NOTION_API_KEY", "NOTION_DATABASE_ID", "NOTION_DAILY_PAGE_ID",
		"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_REFRESH_TOKEN",
	} {
		t.Setenv(key, "")
	}
	return ledgerDir, outputDir
}

func TestRun_Demo(t *testing.T) {
	ledgerDir, outputDir := isolate(t)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"--demo", "--date", "2026-03-14", "--trigger", "manual"}, &stdout, &stderr)
	if code != domain.ExitSuccess {
		t.Fatalf("run()=%d, want %d; logs:\n%s", code, domain.ExitSuccess, stdout.String())
	}

	summary, err := daily.ReadSummary(filepath.Join(outputDir, daily.SummaryJSONName))
	if err != nil {
		t.Fatalf("ReadSummary()=%v", err)
	}
	if summary.Date != "2026-03-14" || !summary.Metadata.DemoMode {
		t.Fatalf("summary date=%s demo=%v, want 2026-03-14 true", summary.Date, summary.Metadata.DemoMode)
	}

	l, err := ledger.NewFileLedger(ledgerDir)
	if err != nil {
		t.Fatalf("NewFileLedger()=%v", err)
	}
	runs, err := l.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns()=%v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.Metadata.RunID {
		t.Fatalf("ListRuns()=%+v, want one run %s", runs, summary.Metadata.RunID)
	}
	if runs[0].Steps[0].Step != domain.StepTriggerManual {
		t.Fatalf("first step=%s, want trigger:manual", runs[0].Steps[0].Step)
	}
}

func TestRun_PreallocatedRunID(t *testing.T) {
	ledgerDir, _ := isolate(t)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"--demo", "--dry-run", "--run-id", "gha-1234"}, &stdout, &stderr)
	if code != domain.ExitSuccess {
		t.Fatalf("run()=%d, want %d", code, domain.ExitSuccess)
	}
	l, err := ledger.NewFileLedger(ledgerDir)
	if err != nil {
		t.Fatalf("NewFileLedger()=%v", err)
	}
	record, err := l.GetRun(context.Background(), "gha-1234")
	if err != nil {
		t.Fatalf("GetRun()=%v", err)
	}
	if record.Status != domain.RunStatusSuccess {
		t.Fatalf("record.Status=%s, want success", record.Status)
	}
}

func TestRun_LiveWithoutSecretsFails(t *testing.T) {
	_, outputDir := isolate(t)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), nil, &stdout, &stderr)
	if code != domain.ExitFailed {
		t.Fatalf("run()=%d, want %d", code, domain.ExitFailed)
	}
	if !strings.Contains(stdout.String(), "OPENAI_API_KEY") {
		t.Fatalf("logs do not name the missing secret:\n%s", stdout.String())
	}
	// The json step still runs after the failed trigger.
	if _, err := os.Stat(filepath.Join(outputDir, daily.SummaryJSONName)); err != nil {
		t.Fatalf("summary not written: %v", err)
	}
}

func TestRun_Misconfiguration(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown flag", args: []string{"--bogus"}},
		{name: "positional argument", args: []string{"--demo", "extra"}},
		{name: "bad date", args: []string{"--demo", "--date", "14/03/2026"}},
		{name: "bad trigger", args: []string{"--demo", "--trigger", "cron"}},
		{name: "bad ledger", args: []string{"--demo", "--ledger", "sqlite"}},
		{name: "missing config file", args: []string{"--config", "/nonexistent/nexus.yaml"}},
		{name: "run id with path separator", args: []string{"--demo", "--dry-run", "--run-id", "nightly/2026-03-14"}},
		{name: "run id with parent reference", args: []string{"--demo", "--run-id", "..evil"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledgerDir, _ := isolate(t)
			var stdout, stderr bytes.Buffer
			if code := run(context.Background(), tt.args, &stdout, &stderr); code != domain.ExitMisconfiguration {
				t.Fatalf("run(%v)=%d, want %d", tt.args, code, domain.ExitMisconfiguration)
			}
			if entries, err := os.ReadDir(filepath.Join(ledgerDir, "runs")); err == nil && len(entries) > 0 {
				t.Fatalf("run(%v) persisted %d ledger records", tt.args, len(entries))
			}
		})
	}
}

func TestRun_CriticalOverrideIsMisconfiguration(t *testing.T) {
	isolate(t)
	t.Setenv("NEXUS_STEP_ALLOW_FAILURE", "output:json=true")
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"--demo"}, &stdout, &stderr); code != domain.ExitMisconfiguration {
		t.Fatalf("run()=%d, want %d", code, domain.ExitMisconfiguration)
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-h"}, &stdout, &stderr); code != domain.ExitSuccess {
		t.Fatalf("run(-h)=%d, want %d", code, domain.ExitSuccess)
	}
	if !strings.Contains(stderr.String(), "-dry-run") {
		t.Fatalf("usage missing flags:\n%s", stderr.String())
	}
}

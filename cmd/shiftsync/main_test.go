package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	serveradapter "github.com/hylla/shiftsync/internal/adapters/server"
	servercommon "github.com/hylla/shiftsync/internal/adapters/server/common"
	"github.com/hylla/shiftsync/internal/config"
)

// TestMain pins dev mode off so tests never write workspace logs unless they ask to.
func TestMain(m *testing.M) {
	_ = os.Setenv("SHIFTSYNC_DEV_MODE", "false")
	os.Exit(m.Run())
}

// cliEnv isolates one test's config, dotenv, and database files.
type cliEnv struct {
	dir     string
	db      string
	config  string
	envFile string
}

func newCLIEnv(t *testing.T, configTOML string) cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := cliEnv{
		dir:     dir,
		db:      filepath.Join(dir, "shiftsync.db"),
		config:  filepath.Join(dir, "config.toml"),
		envFile: filepath.Join(dir, "missing.env"),
	}
	if configTOML != "" {
		if err := os.WriteFile(env.config, []byte(configTOML), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	return env
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	full := append([]string{"--quiet", "--db", e.db, "--config", e.config, "--env-file", e.envFile}, args...)
	err := run(context.Background(), full, &out, io.Discard)
	return out.String(), err
}

func (e cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("run(%v) error = %v", args, err)
	}
	return out
}

func (e cliEnv) writePlan(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

const basePlan = `team: T1
actor: planner
client_id: plan-1
cells:
  - day: "2024-06-01"
    employee: E1
    value: 白
  - day: "2024-06-01"
    employee: E2
    value: 夜
`

func TestRunVersion(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), []string{"--version"}, &out, io.Discard); err != nil {
		t.Fatalf("run(version) error = %v", err)
	}
	if !strings.Contains(out.String(), "shiftsync") {
		t.Fatalf("expected version output, got %q", out.String())
	}
}

func TestRunRejectsUnknownCommandAndFlag(t *testing.T) {
	if err := run(context.Background(), []string{"bogus"}, io.Discard, io.Discard); err == nil {
		t.Fatal("expected unknown command error")
	}
	if err := run(context.Background(), []string{"--definitely-not-a-flag"}, io.Discard, io.Discard); err == nil {
		t.Fatal("expected invalid flag error")
	}
}

func TestRunPathsCommand(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), []string{"--dev", "paths"}, &out, io.Discard); err != nil {
		t.Fatalf("run(paths) error = %v", err)
	}
	output := out.String()
	for _, want := range []string{"app: shiftsync", "dev_mode: true", "shiftsync-dev.db", ".env"} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in paths output, got %q", want, output)
		}
	}
}

func TestRunPlanOpsAndGrid(t *testing.T) {
	env := newCLIEnv(t, "")
	plan := env.writePlan(t, "plan.yaml", basePlan)

	dry := env.mustRun(t, "plan", "--file", plan, "--dry-run")
	if !strings.Contains(dry, "planned") || !strings.Contains(dry, "dry_run=true") {
		t.Fatalf("unexpected dry-run output %q", dry)
	}

	applied := env.mustRun(t, "plan", "--file", plan)
	if !strings.Contains(applied, "applied=2 conflicts=0 unchanged=0") {
		t.Fatalf("unexpected apply output %q", applied)
	}
	rerun := env.mustRun(t, "plan", "--file", plan)
	if !strings.Contains(rerun, "applied=0 conflicts=0 unchanged=2") {
		t.Fatalf("expected rerun to be a no-op, got %q", rerun)
	}

	var page servercommon.OpsPage
	if err := json.Unmarshal([]byte(env.mustRun(t, "--json", "ops", "--team", "T1")), &page); err != nil {
		t.Fatalf("decode ops json: %v", err)
	}
	if len(page.Ops) != 2 || page.NextSince != 2 {
		t.Fatalf("unexpected ops page %#v", page)
	}
	if page.Ops[0].Seq != 1 || page.Ops[0].Actor != "planner" || page.Ops[0].ClientID != "plan-1" {
		t.Fatalf("unexpected first op %#v", page.Ops[0])
	}

	table := env.mustRun(t, "ops", "--team", "T1", "--since", "1")
	if !strings.Contains(table, "next since: 2") || !strings.Contains(table, "planner") {
		t.Fatalf("unexpected ops table %q", table)
	}

	var grid servercommon.Grid
	if err := json.Unmarshal([]byte(env.mustRun(t, "--json", "grid", "--team", "T1", "--day", "2024-06-01")), &grid); err != nil {
		t.Fatalf("decode grid json: %v", err)
	}
	if grid.LiveVersion != 2 || len(grid.Cells) != 2 {
		t.Fatalf("unexpected grid %#v", grid)
	}
	if grid.Cells[0].Employee != "E1" || grid.Cells[0].Value == nil || *grid.Cells[0].Value != "白" {
		t.Fatalf("unexpected first cell %#v", grid.Cells[0])
	}
}

func TestRunPlanRejectsBadInput(t *testing.T) {
	env := newCLIEnv(t, "")
	unknownKey := env.writePlan(t, "typo.yaml", "team: T1\nactor: a\ncels: []\n")
	if _, err := env.run(t, "plan", "--file", unknownKey); err == nil {
		t.Fatal("expected unknown plan key to fail")
	}

	disallowed := env.writePlan(t, "bad.yaml", strings.Replace(basePlan, "value: 夜", "value: 朝", 1))
	_, err := env.run(t, "plan", "--file", disallowed)
	if err == nil || !strings.Contains(err.Error(), "disallowed") {
		t.Fatalf("expected disallowed value error, got %v", err)
	}
	if _, err := env.run(t, "plan"); err == nil {
		t.Fatal("expected missing --file to fail")
	}
}

func TestRunSnapshotCreateListRestore(t *testing.T) {
	env := newCLIEnv(t, "")
	env.mustRun(t, "plan", "--file", env.writePlan(t, "plan.yaml", basePlan))

	var snapshot servercommon.SnapshotView
	out := env.mustRun(t, "--json", "snapshot", "create", "--team", "T1", "--day", "2024-06-01", "--actor", "lead", "--note", "before swap")
	if err := json.Unmarshal([]byte(out), &snapshot); err != nil {
		t.Fatalf("decode snapshot json: %v", err)
	}
	if snapshot.ID == "" || len(snapshot.Cells) != 2 {
		t.Fatalf("unexpected snapshot %#v", snapshot)
	}

	swap := strings.Replace(strings.Replace(basePlan, "value: 白", "value: 休", 1), "plan-1", "plan-2", 1)
	env.mustRun(t, "plan", "--file", env.writePlan(t, "swap.yaml", swap))

	listing := env.mustRun(t, "snapshot", "list", "--team", "T1", "--day", "2024-06-01")
	if !strings.Contains(listing, snapshot.ID) || !strings.Contains(listing, "before swap") {
		t.Fatalf("unexpected snapshot list %q", listing)
	}

	restored := env.mustRun(t, "snapshot", "restore", snapshot.ID, "--actor", "lead")
	if !strings.Contains(restored, "applied=1 conflicts=0 unchanged=1") {
		t.Fatalf("unexpected restore output %q", restored)
	}

	var grid servercommon.Grid
	if err := json.Unmarshal([]byte(env.mustRun(t, "--json", "grid", "--team", "T1", "--day", "2024-06-01")), &grid); err != nil {
		t.Fatalf("decode grid json: %v", err)
	}
	if *grid.Cells[0].Value != "白" || grid.LiveVersion != 4 {
		t.Fatalf("expected restored grid, got %#v", grid)
	}

	if _, err := env.run(t, "snapshot", "restore", "missing", "--actor", "lead"); err == nil {
		t.Fatal("expected restore of unknown snapshot to fail")
	}
}

func TestRunServeWiresDependencies(t *testing.T) {
	env := newCLIEnv(t, `
[server]
allowed_origins = ["https://roster.example.com"]

[rate_limit]
per_second = 3

[feed]
ping_interval = "5s"
`)

	orig := serveCommandRunner
	t.Cleanup(func() { serveCommandRunner = orig })

	var (
		gotCfg  serveradapter.Config
		gotDeps serveradapter.Dependencies
		written servercommon.WriteResult
	)
	serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
		gotCfg, gotDeps = cfg, deps
		var err error
		written, err = deps.Cells.WriteCell(ctx, servercommon.WriteCellRequest{
			Team: "T1", Day: "2024-06-01", Employee: "E1", Value: "白",
			ClientID: "c1", ClientSeq: 1, Actor: "alice",
		})
		return err
	}

	env.mustRun(t, "serve", "--http", "127.0.0.1:9999", "--no-watch")

	if gotCfg.HTTPBind != "127.0.0.1:9999" || gotCfg.APIEndpoint != "/api/v1" {
		t.Fatalf("unexpected serve config %#v", gotCfg)
	}
	if len(gotCfg.AllowedOrigins) != 1 || gotCfg.AllowedOrigins[0] != "https://roster.example.com" {
		t.Fatalf("unexpected origins %#v", gotCfg.AllowedOrigins)
	}
	if gotCfg.Stream.PingInterval != 5*time.Second {
		t.Fatalf("unexpected ping interval %s", gotCfg.Stream.PingInterval)
	}
	if gotDeps.Limiter == nil || gotDeps.Metrics == nil || gotDeps.Ready == nil || gotDeps.Feed == nil {
		t.Fatalf("expected limiter, metrics, readiness, and feed wired, got %#v", gotDeps)
	}
	if !written.Applied || written.Version != 1 {
		t.Fatalf("unexpected write through served deps %#v", written)
	}
}

func TestRunServeWithoutRateLimit(t *testing.T) {
	env := newCLIEnv(t, "[rate_limit]\nper_second = 0\n")
	orig := serveCommandRunner
	t.Cleanup(func() { serveCommandRunner = orig })

	called := false
	serveCommandRunner = func(_ context.Context, _ serveradapter.Config, deps serveradapter.Dependencies) error {
		called = true
		if deps.Limiter != nil {
			t.Fatalf("expected no limiter, got %#v", deps.Limiter)
		}
		return nil
	}
	env.mustRun(t, "serve", "--no-watch")
	if !called {
		t.Fatal("expected serve runner to be called")
	}
}

func TestRunEnvOverridesAllowedValues(t *testing.T) {
	env := newCLIEnv(t, "")
	t.Setenv("SHIFTSYNC_CELLS_ALLOWED_VALUES", "A,B")
	_, err := env.run(t, "plan", "--file", env.writePlan(t, "plan.yaml", basePlan))
	if err == nil || !strings.Contains(err.Error(), "disallowed") {
		t.Fatalf("expected env allowed values to reject 白, got %v", err)
	}
}

func TestRunLoadsDotEnvFile(t *testing.T) {
	env := newCLIEnv(t, "")
	env.envFile = filepath.Join(env.dir, ".env")
	if err := os.WriteFile(env.envFile, []byte("SHIFTSYNC_LOGGING_LEVEL=loud\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("SHIFTSYNC_LOGGING_LEVEL") })
	_, err := env.run(t, "ops", "--team", "T1")
	if err == nil || !strings.Contains(err.Error(), "logging.level") {
		t.Fatalf("expected dotenv logging level to be validated, got %v", err)
	}
}

func TestRunRejectsInvalidLoggingLevelFromConfig(t *testing.T) {
	env := newCLIEnv(t, "[logging]\nlevel = \"verbose\"\n")
	if _, err := env.run(t, "ops", "--team", "T1"); err == nil {
		t.Fatal("expected invalid logging level to fail")
	}
}

func TestRunDevModeCreatesWorkspaceLogFile(t *testing.T) {
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "go.mod"), []byte("module example.com/test\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Chdir(workspace)

	env := newCLIEnv(t, "[logging.dev_file]\nenabled = true\n")
	env.mustRun(t, "--dev", "ops", "--team", "T1")

	logDir := filepath.Join(workspace, ".shiftsync", "log")
	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var logPath string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".log") {
			logPath = filepath.Join(logDir, entry.Name())
		}
	}
	if logPath == "" {
		t.Fatalf("expected a .log file in %s, got %v", logDir, entries)
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(content), "command flow complete") {
		t.Fatalf("expected quiet console to still log to file, got %q", content)
	}
}

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("SHIFTSYNC_BOOL_TEST", "true")
	if v, ok := parseBoolEnv("SHIFTSYNC_BOOL_TEST"); !ok || !v {
		t.Fatalf("parseBoolEnv(true) = %t, %t", v, ok)
	}
	t.Setenv("SHIFTSYNC_BOOL_TEST", "maybe")
	if _, ok := parseBoolEnv("SHIFTSYNC_BOOL_TEST"); ok {
		t.Fatal("expected unparsable value to be ignored")
	}
	if _, ok := parseBoolEnv("SHIFTSYNC_BOOL_TEST_UNSET"); ok {
		t.Fatal("expected unset value to be ignored")
	}
}

func TestWorkspaceRootFromUsesNearestMarker(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/test\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	nested := filepath.Join(root, "cmd", "shiftsync")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if got := workspaceRootFrom(nested); filepath.Clean(got) != filepath.Clean(root) {
		t.Fatalf("expected workspace root %q, got %q", root, got)
	}
}

func TestDevLogFilePathResolvesAgainstWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/test\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	nested := filepath.Join(root, "cmd", "shiftsync")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	t.Chdir(nested)

	got, err := devLogFilePath("", "shift sync", time.Date(2026, 2, 22, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("devLogFilePath() error = %v", err)
	}
	normalize := func(p string) string {
		return strings.TrimPrefix(filepath.Clean(p), "/private")
	}
	want := filepath.Join(root, ".shiftsync", "log", "shift-sync-20260222.log")
	if normalize(got) != normalize(want) {
		t.Fatalf("devLogFilePath() = %q, want %q", got, want)
	}
}

func TestRuntimeLoggerCanMuteConsoleSink(t *testing.T) {
	var console bytes.Buffer
	cfg := config.Default("/tmp/shiftsync.db").Logging

	logger, err := newRuntimeLogger(&console, "shiftsync", false, cfg, func() time.Time {
		return time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	})
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}

	logger.Info("before")
	logger.SetConsoleEnabled(false)
	logger.Info("during")
	logger.SetConsoleEnabled(true)
	logger.Warn("after")

	out := console.String()
	if !strings.Contains(out, "before") || !strings.Contains(out, "after") {
		t.Fatalf("expected unmuted events on console, got %q", out)
	}
	if strings.Contains(out, "during") {
		t.Fatalf("expected muted console log to omit 'during', got %q", out)
	}
	if logger.DevLogPath() != "" {
		t.Fatalf("expected no dev log outside dev mode, got %q", logger.DevLogPath())
	}
}

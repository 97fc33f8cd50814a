// Package bootstrap implements the two-stage handoff that stages a
// downloaded update package, decides which engine version should apply it,
// and either runs the installed engine in-process or re-execs a newer
// engine bundled inside the package itself (spec.md §4.6).
package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cuemby/update-agent/internal/archive"
	"github.com/cuemby/update-agent/internal/engine"
	"github.com/cuemby/update-agent/internal/job"
	"github.com/cuemby/update-agent/internal/manifest"
	"github.com/cuemby/update-agent/internal/semver"
)

// Exit codes, forwarded verbatim by cmd/update-bootstrap (spec.md §6).
const (
	ExitSuccess          = 0
	ExitUsage            = 2
	ExitEngineTooOld     = 3
	ExitIntegrityFailure = 4
	ExitJobFailed        = 5
	ExitRollbackFailed   = 6
	ExitBusy             = 7
)

// bundledEngineDir is the package-relative directory a self-update package
// may carry (spec.md §4.6, §6 package layout).
const bundledEngineDir = "update_engine"

// bundledEngineChecksumFile is the checksum of the bundled engine's own
// binary, distinct from the package-wide checksums.md5.
const bundledEngineChecksumFile = "CHECKSUM"

// bundledEngineEntrypoint is the staged engine's own CLI binary, re-exec'd
// with the same package path argument pointed at the same staged tree.
const bundledEngineEntrypoint = "update-bootstrap"

// Bootstrapper stages a package and decides, then runs, which engine
// version applies it.
type Bootstrapper struct {
	baseDir          string
	installedVersion semver.Version
	engine           *engine.Engine
	logCapacity      int
	logger           *slog.Logger

	// execCommand is overridden in tests to avoid actually re-exec'ing a
	// binary that does not exist on the test host.
	execCommand func(ctx context.Context, path string, args ...string) *exec.Cmd
}

// New constructs a Bootstrapper. installedVersion is this process's own
// engine version; eng is used when that version satisfies the package's
// required_engine_version.
func New(baseDir string, installedVersion semver.Version, eng *engine.Engine, logCapacity int, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	if logCapacity <= 0 {
		logCapacity = 500
	}
	return &Bootstrapper{
		baseDir:          baseDir,
		installedVersion: installedVersion,
		engine:           eng,
		logCapacity:      logCapacity,
		logger:           logger.With("component", "bootstrap"),
		execCommand:      exec.CommandContext,
	}
}

// Result is what Apply returns: the exit code to forward, and — when the
// job actually ran in-process — its terminal snapshot.
type Result struct {
	ExitCode int
	Job      *job.View
}

// Apply stages packagePath, decides which engine applies it, and runs (or
// re-execs) that engine. dryRun stages and validates only, running no
// actions (the supplemental `--dry-run` flag, grounded on the original
// implementation's staging-only mode). jobID, when non-empty, is used as the
// in-process job's identifier instead of a freshly generated one — the HTTP
// boundary pre-generates it so it can hand the id back to the caller before
// Apply (which blocks until the job finishes) returns.
func (b *Bootstrapper) Apply(ctx context.Context, packagePath string, dryRun bool, jobID string) (*Result, error) {
	stagingParent := filepath.Join(b.baseDir, "tmp")
	if err := os.MkdirAll(stagingParent, 0o755); err != nil {
		return nil, fmt.Errorf("bootstrap: preparing staging dir: %w", err)
	}

	stagedRoot, err := archive.ExtractTarGz(packagePath, stagingParent)
	if err != nil {
		b.logger.Error("staging failed", "package", packagePath, "error", err)
		return &Result{ExitCode: ExitIntegrityFailure}, nil
	}
	defer func() {
		if dryRun {
			os.RemoveAll(stagedRoot)
		}
	}()

	if err := b.verifyChecksums(stagedRoot); err != nil {
		b.logger.Error("integrity check failed", "error", err)
		os.RemoveAll(stagedRoot)
		return &Result{ExitCode: ExitIntegrityFailure}, nil
	}

	manifestPath := filepath.Join(stagedRoot, "manifest.yml")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		b.logger.Error("reading manifest.yml failed", "error", err)
		os.RemoveAll(stagedRoot)
		return &Result{ExitCode: ExitIntegrityFailure}, nil
	}
	m, err := manifest.Parse(data)
	if err != nil {
		b.logger.Error("manifest parse failed", "error", err)
		os.RemoveAll(stagedRoot)
		return &Result{ExitCode: ExitIntegrityFailure}, nil
	}
	if err := manifest.Validate(m); err != nil {
		b.logger.Error("manifest validation failed", "error", err)
		os.RemoveAll(stagedRoot)
		return &Result{ExitCode: ExitIntegrityFailure}, nil
	}

	if semver.AtLeast(b.installedVersion, m.RequiredEngineVersion) {
		if dryRun {
			b.logger.Info("dry run: staged and validated, not executing", "manifest", m.Description)
			return &Result{ExitCode: ExitSuccess}, nil
		}
		return b.runInProcess(ctx, m, stagedRoot, jobID)
	}

	bundled := filepath.Join(stagedRoot, bundledEngineDir)
	if info, statErr := os.Stat(bundled); statErr == nil && info.IsDir() {
		return b.reExecBundled(ctx, bundled, stagedRoot, packagePath, dryRun)
	}

	b.logger.Error("installed engine too old and package carries no bundled engine",
		"installed", b.installedVersion.String(), "required", m.RequiredEngineVersion.String())
	return &Result{ExitCode: ExitEngineTooOld}, nil
}

// verifyChecksums reads checksums.md5 from the staged root and verifies
// every listed file matches (spec.md §4.6 step 1).
func (b *Bootstrapper) verifyChecksums(stagedRoot string) error {
	f, err := os.Open(filepath.Join(stagedRoot, archive.ChecksumManifestName))
	if err != nil {
		return fmt.Errorf("reading %s: %w", archive.ChecksumManifestName, err)
	}
	defer f.Close()

	wanted, err := archive.ParseChecksumManifest(f)
	if err != nil {
		return err
	}
	return archive.VerifyTree(stagedRoot, wanted)
}

// runInProcess builds a Job and drives it through this process's own
// engine.
func (b *Bootstrapper) runInProcess(ctx context.Context, m *manifest.Manifest, stagedRoot, jobID string) (*Result, error) {
	if jobID == "" {
		jobID = uuid.New().String()
	}
	j := job.New(jobID, m.Description, len(m.Actions), b.logCapacity)

	result, err := b.engine.Run(ctx, m, stagedRoot, j)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: engine run: %w", err)
	}

	view := result.View
	return &Result{ExitCode: exitCodeFor(view), Job: &view}, nil
}

// exitCodeFor maps a job's terminal status/error onto the CLI exit codes
// (spec.md §6). Only `rollback_failed` gets the distinct code 6; every
// other failed terminal status (rollback disabled, rollback not permitted,
// or successfully rolled back) forwards 5 — the spec's table names both as
// "job failed", only distinguishing whether rollback itself also failed.
func exitCodeFor(v job.View) int {
	switch v.Status {
	case job.StatusCompleted:
		return ExitSuccess
	case job.StatusRolledBack:
		return ExitJobFailed
	default:
		if v.Error != nil && v.Error.Kind == job.ErrKindRollbackFailed {
			return ExitRollbackFailed
		}
		return ExitJobFailed
	}
}

// reExecBundled verifies the bundled engine's own CHECKSUM, then re-execs
// it pointed at the same staged tree and package path, forwarding its exit
// code verbatim (spec.md §4.6 step 3). The bundled engine's own action list
// is responsible for installing itself as the new `current` engine.
func (b *Bootstrapper) reExecBundled(ctx context.Context, bundledDir, stagedRoot, packagePath string, dryRun bool) (*Result, error) {
	checksumPath := filepath.Join(bundledDir, bundledEngineChecksumFile)
	checksumData, err := os.ReadFile(checksumPath)
	if err != nil {
		b.logger.Error("bundled engine missing CHECKSUM", "error", err)
		return &Result{ExitCode: ExitIntegrityFailure}, nil
	}

	entrypoint := filepath.Join(bundledDir, bundledEngineEntrypoint)
	wanted, err := archive.ParseChecksumManifest(bytes.NewReader(checksumData))
	if err != nil {
		b.logger.Error("bundled engine CHECKSUM unparseable", "error", err)
		return &Result{ExitCode: ExitIntegrityFailure}, nil
	}
	if err := archive.VerifyTree(bundledDir, wanted); err != nil {
		b.logger.Error("bundled engine checksum mismatch", "error", err)
		return &Result{ExitCode: ExitIntegrityFailure}, nil
	}

	args := []string{packagePath}
	if dryRun {
		args = append(args, "--dry-run")
	}
	cmd := b.execCommand(ctx, entrypoint, args...)
	cmd.Dir = stagedRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "UPDATER_BASE_DIR="+b.baseDir)

	b.logger.Info("re-executing bundled engine", "entrypoint", entrypoint)
	runErr := cmd.Run()
	if runErr == nil {
		return &Result{ExitCode: ExitSuccess}, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return &Result{ExitCode: exitErr.ExitCode()}, nil
	}
	return nil, fmt.Errorf("bootstrap: re-exec bundled engine: %w", runErr)
}

// Package manifest parses and validates the manifest.yml shipped inside an
// update package: checks, actions, rollback and cleanup policy for one
// update (spec.md §3, §6).
package manifest

import "github.com/cuemby/update-agent/internal/semver"

// Manifest is immutable for the duration of a job.
type Manifest struct {
	Description           string        `yaml:"description"`
	Date                   string        `yaml:"date"`
	RequiredEngineVersion  semver.Version `yaml:"required_engine_version"`
	PreChecks              []CheckSpec   `yaml:"pre_checks"`
	PostChecks             []CheckSpec   `yaml:"post_checks"`
	Actions                []ActionSpec  `yaml:"actions"`
	Rollback               RollbackSpec  `yaml:"rollback"`
	Cleanup                CleanupSpec   `yaml:"cleanup"`
}

// RollbackSpec controls whether and how the engine reverts a failed job.
type RollbackSpec struct {
	Enabled       bool         `yaml:"enabled"`
	AutoOnFailure bool         `yaml:"auto_on_failure"`
	Steps         []ActionSpec `yaml:"steps,omitempty"`
}

// CleanupSpec controls the always-run, non-transactional cleanup phase.
type CleanupSpec struct {
	RemoveOldBackups bool `yaml:"remove_old_backups"`
	KeepLastN        int  `yaml:"keep_last_n" validate:"gte=0"`
	RemoveTempFiles  bool `yaml:"remove_temp_files"`
	RemoveOldImages  bool `yaml:"remove_old_images"`
}

// --- Action variant payloads -------------------------------------------------

// CommandAction spawns a shell-interpreted command (action "command").
type CommandAction struct {
	Cmd            string `yaml:"cmd"`
	Cwd            string `yaml:"cwd"`
	TimeoutSeconds int    `yaml:"timeout"`
}

// BackupAction captures a filesystem snapshot of sources (action "backup").
type BackupAction struct {
	Sources []string `yaml:"sources"`
	Name    string   `yaml:"name"`
}

// RestoreBackupAction restores a previously created backup.
type RestoreBackupAction struct {
	BackupName string `yaml:"backup_name"`
}

// LatestBackupName is the sentinel value meaning "most recently registered
// backup, regardless of which job created it" (spec.md §4.2, §9).
const LatestBackupName = "latest"

// DockerComposeUpAction brings a compose stack up.
type DockerComposeUpAction struct {
	File   string `yaml:"file"`
	Detach bool   `yaml:"detach"`
	Build  bool   `yaml:"build"`
}

// DockerComposeDownAction tears a compose stack down.
type DockerComposeDownAction struct {
	File string `yaml:"file"`
}

// DockerLoadAction loads an image tarball resolved against the staged root.
type DockerLoadAction struct {
	ImageTar string `yaml:"image_tar"`
}

// DockerPruneAction prunes unused images.
type DockerPruneAction struct {
	All   bool `yaml:"all"`
	Force bool `yaml:"force"`
}

// FileCopyAction copies one staged-relative file to a destination path.
type FileCopyAction struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Checksum    string `yaml:"checksum"`
}

// FileSyncMode enumerates file_sync's tree-sync strategies.
type FileSyncMode string

const (
	SyncModeMirror            FileSyncMode = "mirror"
	SyncModeAddOnly            FileSyncMode = "add_only"
	SyncModeOverwriteExisting  FileSyncMode = "overwrite_existing"
)

// FileSyncAction synchronizes a directory tree.
type FileSyncAction struct {
	Source      string       `yaml:"source"`
	Destination string       `yaml:"destination"`
	Mode        FileSyncMode `yaml:"mode" validate:"oneof=mirror add_only overwrite_existing"`
}

// FileMergeStrategy enumerates file_merge's KEY=VALUE merge strategies.
type FileMergeStrategy string

const (
	MergeKeepExisting FileMergeStrategy = "keep_existing"
	MergeOverwriteAll FileMergeStrategy = "overwrite_all"
	MergeMergeKeys    FileMergeStrategy = "merge_keys"
)

// FileMergeAction merges two line-oriented KEY=VALUE files.
type FileMergeAction struct {
	Source      string            `yaml:"source"`
	Destination string            `yaml:"destination"`
	Strategy    FileMergeStrategy `yaml:"strategy" validate:"oneof=keep_existing overwrite_all merge_keys"`
}

// ActionSpec is a tagged-variant action declaration. Exactly one of the
// pointer fields matching Type is populated; see parse.go for the
// discriminated decode.
type ActionSpec struct {
	Type            string `yaml:"type"`
	Name            string `yaml:"name"`
	ContinueOnError bool   `yaml:"continue_on_error"`

	Command           *CommandAction           `yaml:"-"`
	Backup            *BackupAction            `yaml:"-"`
	RestoreBackup     *RestoreBackupAction     `yaml:"-"`
	DockerComposeUp   *DockerComposeUpAction   `yaml:"-"`
	DockerComposeDown *DockerComposeDownAction `yaml:"-"`
	DockerLoad        *DockerLoadAction        `yaml:"-"`
	DockerPrune       *DockerPruneAction       `yaml:"-"`
	FileCopy          *FileCopyAction          `yaml:"-"`
	FileSync          *FileSyncAction          `yaml:"-"`
	FileMerge         *FileMergeAction         `yaml:"-"`
}

// --- Check variant payloads --------------------------------------------------

// CommandCheck runs a shell command; zero exit status means pass.
type CommandCheck struct {
	Cmd            string `yaml:"cmd"`
	Cwd            string `yaml:"cwd"`
	TimeoutSeconds int    `yaml:"timeout"`
}

// HTTPCheck probes a URL, retrying on failure.
type HTTPCheck struct {
	URL             string `yaml:"url"`
	ExpectStatus    int    `yaml:"expect_status"`
	Retries         int    `yaml:"retries"`
	DelaySeconds    int    `yaml:"delay"`
}

// ServiceRunningCheck asks the service supervisor adapter whether a unit is active.
type ServiceRunningCheck struct {
	Service string `yaml:"service"`
}

// DockerHealthCheck asks the container runtime adapter for a container's health.
type DockerHealthCheck struct {
	Container string `yaml:"container"`
}

// FileExistsCheck asserts a path exists (and optionally matches an MD5).
type FileExistsCheck struct {
	Path     string `yaml:"path"`
	Checksum string `yaml:"checksum"`
}

// CheckSpec is a tagged-variant check declaration.
type CheckSpec struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`

	Command        *CommandCheck        `yaml:"-"`
	HTTPCheck      *HTTPCheck           `yaml:"-"`
	ServiceRunning *ServiceRunningCheck `yaml:"-"`
	DockerHealth   *DockerHealthCheck   `yaml:"-"`
	FileExists     *FileExistsCheck     `yaml:"-"`
}

package manifest

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Parse decodes and validates manifest.yml. Unknown top-level keys are
// ignored for forward-compatibility; an unknown `type` discriminant on any
// check/action fails here, before any phase runs (spec.md §4.1, §6).
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	if err := Validate(&m); err != nil {
		return nil, fmt.Errorf("manifest: validate: %w", err)
	}
	return &m, nil
}

var validate = validator.New()

// Validate checks structural invariants that the tagged-union decode alone
// doesn't enforce (keep_last_n >= 0, known sync/merge modes, ...).
func Validate(m *Manifest) error {
	if err := validate.Struct(&m.Cleanup); err != nil {
		return err
	}
	for i := range m.Actions {
		if err := validateAction(&m.Actions[i]); err != nil {
			return fmt.Errorf("action[%d] %q: %w", i, m.Actions[i].Type, err)
		}
	}
	for i := range m.Rollback.Steps {
		if err := validateAction(&m.Rollback.Steps[i]); err != nil {
			return fmt.Errorf("rollback.steps[%d] %q: %w", i, m.Rollback.Steps[i].Type, err)
		}
	}
	for i := range m.PreChecks {
		if m.PreChecks[i].Type == "" {
			return fmt.Errorf("pre_checks[%d]: missing type", i)
		}
	}
	for i := range m.PostChecks {
		if m.PostChecks[i].Type == "" {
			return fmt.Errorf("post_checks[%d]: missing type", i)
		}
	}
	return nil
}

func validateAction(a *ActionSpec) error {
	if a.FileSync != nil {
		if err := validate.Struct(a.FileSync); err != nil {
			return err
		}
	}
	if a.FileMerge != nil {
		if err := validate.Struct(a.FileMerge); err != nil {
			return err
		}
	}
	return nil
}

// --- tagged-union decode ------------------------------------------------------

// actionKinds maps an action's "type" discriminant to a decode function that
// unmarshals the same YAML node into the variant-specific field.
var actionKinds = map[string]func(*ActionSpec, *yaml.Node) error{
	"command": func(a *ActionSpec, n *yaml.Node) error {
		a.Command = &CommandAction{TimeoutSeconds: 300}
		return n.Decode(a.Command)
	},
	"backup": func(a *ActionSpec, n *yaml.Node) error {
		a.Backup = &BackupAction{}
		return n.Decode(a.Backup)
	},
	"restore_backup": func(a *ActionSpec, n *yaml.Node) error {
		a.RestoreBackup = &RestoreBackupAction{}
		return n.Decode(a.RestoreBackup)
	},
	"docker_compose_up": func(a *ActionSpec, n *yaml.Node) error {
		a.DockerComposeUp = &DockerComposeUpAction{}
		return n.Decode(a.DockerComposeUp)
	},
	"docker_compose_down": func(a *ActionSpec, n *yaml.Node) error {
		a.DockerComposeDown = &DockerComposeDownAction{}
		return n.Decode(a.DockerComposeDown)
	},
	"docker_load": func(a *ActionSpec, n *yaml.Node) error {
		a.DockerLoad = &DockerLoadAction{}
		return n.Decode(a.DockerLoad)
	},
	"docker_prune": func(a *ActionSpec, n *yaml.Node) error {
		a.DockerPrune = &DockerPruneAction{}
		return n.Decode(a.DockerPrune)
	},
	"file_copy": func(a *ActionSpec, n *yaml.Node) error {
		a.FileCopy = &FileCopyAction{}
		return n.Decode(a.FileCopy)
	},
	"file_sync": func(a *ActionSpec, n *yaml.Node) error {
		a.FileSync = &FileSyncAction{}
		return n.Decode(a.FileSync)
	},
	"file_merge": func(a *ActionSpec, n *yaml.Node) error {
		a.FileMerge = &FileMergeAction{}
		return n.Decode(a.FileMerge)
	},
}

// checkKinds is the check-side equivalent of actionKinds.
var checkKinds = map[string]func(*CheckSpec, *yaml.Node) error{
	"command": func(c *CheckSpec, n *yaml.Node) error {
		c.Command = &CommandCheck{TimeoutSeconds: 30}
		return n.Decode(c.Command)
	},
	"http_check": func(c *CheckSpec, n *yaml.Node) error {
		c.HTTPCheck = &HTTPCheck{ExpectStatus: 200}
		return n.Decode(c.HTTPCheck)
	},
	"service_running": func(c *CheckSpec, n *yaml.Node) error {
		c.ServiceRunning = &ServiceRunningCheck{}
		return n.Decode(c.ServiceRunning)
	},
	"docker_health": func(c *CheckSpec, n *yaml.Node) error {
		c.DockerHealth = &DockerHealthCheck{}
		return n.Decode(c.DockerHealth)
	},
	"file_exists": func(c *CheckSpec, n *yaml.Node) error {
		c.FileExists = &FileExistsCheck{}
		return n.Decode(c.FileExists)
	},
}

type discriminant struct {
	Type string `yaml:"type"`
}

// UnmarshalYAML implements the tagged-union decode for ActionSpec: first
// read the `type` discriminant, then decode the full node into the matching
// variant struct. An unrecognized type is a parse error (spec.md §4.1).
func (a *ActionSpec) UnmarshalYAML(node *yaml.Node) error {
	var common struct {
		Type            string `yaml:"type"`
		Name            string `yaml:"name"`
		ContinueOnError bool   `yaml:"continue_on_error"`
	}
	if err := node.Decode(&common); err != nil {
		return err
	}
	if common.Type == "" {
		return fmt.Errorf("action: missing required field \"type\"")
	}
	decode, ok := actionKinds[common.Type]
	if !ok {
		return fmt.Errorf("action: unknown type %q", common.Type)
	}
	a.Type = common.Type
	a.Name = common.Name
	a.ContinueOnError = common.ContinueOnError
	return decode(a, node)
}

// UnmarshalYAML implements the tagged-union decode for CheckSpec.
func (c *CheckSpec) UnmarshalYAML(node *yaml.Node) error {
	var common discriminant
	if err := node.Decode(&common); err != nil {
		return err
	}
	var name struct {
		Name string `yaml:"name"`
	}
	_ = node.Decode(&name)
	if common.Type == "" {
		return fmt.Errorf("check: missing required field \"type\"")
	}
	decode, ok := checkKinds[common.Type]
	if !ok {
		return fmt.Errorf("check: unknown type %q", common.Type)
	}
	c.Type = common.Type
	c.Name = name.Name
	return decode(c, node)
}

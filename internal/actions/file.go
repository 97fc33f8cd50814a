package actions

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/update-agent/internal/archive"
	"github.com/cuemby/update-agent/internal/manifest"
)

// atomicWriteFile writes data to path via a sibling temp file, fsync, then
// rename-over — the same discipline as the state store and backup manager
// (spec.md §4.2 "Writes are atomic per file").
func atomicWriteFile(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("actions: mkdir %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("actions: create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("actions: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("actions: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("actions: rename into place: %w", err)
	}
	return nil
}

func atomicCopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("actions: stat %s: %w", src, err)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("actions: read %s: %w", src, err)
	}
	return atomicWriteFile(dst, data, info.Mode())
}

func handleFileCopy(ctx context.Context, spec manifest.ActionSpec, rc *Context) (Outcome, error) {
	fc := spec.FileCopy
	if fc == nil {
		return Outcome{}, fmt.Errorf("actions: file_copy action missing its spec payload")
	}

	src, err := archive.SafeJoin(rc.StagedRoot, fc.Source)
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: file_copy: %w", err)
	}

	if fc.Checksum != "" {
		got, err := archive.MD5File(src)
		if err != nil {
			return Outcome{}, fmt.Errorf("actions: file_copy: %w", err)
		}
		if got != fc.Checksum {
			return Outcome{}, &archive.ChecksumMismatchError{Path: fc.Source, Want: fc.Checksum, Got: got}
		}
	}

	if err := atomicCopyFile(src, fc.Destination); err != nil {
		return Outcome{}, fmt.Errorf("actions: file_copy %s -> %s: %w", fc.Source, fc.Destination, err)
	}
	rc.logf("file_copy %s -> %s", fc.Source, fc.Destination)
	return Outcome{}, nil
}

func handleFileSync(ctx context.Context, spec manifest.ActionSpec, rc *Context) (Outcome, error) {
	fs := spec.FileSync
	if fs == nil {
		return Outcome{}, fmt.Errorf("actions: file_sync action missing its spec payload")
	}

	src, err := archive.SafeJoin(rc.StagedRoot, fs.Source)
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: file_sync: %w", err)
	}

	err = withHeartbeat(rc, fmt.Sprintf("file_sync %s -> %s", fs.Source, fs.Destination), func() error {
		switch fs.Mode {
		case manifest.SyncModeMirror, "":
			return syncMirror(src, fs.Destination)
		case manifest.SyncModeAddOnly:
			return syncAddOnly(src, fs.Destination)
		case manifest.SyncModeOverwriteExisting:
			return syncOverwriteExisting(src, fs.Destination)
		default:
			return fmt.Errorf("unknown file_sync mode %q", fs.Mode)
		}
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: file_sync %s -> %s: %w", fs.Source, fs.Destination, err)
	}
	rc.logf("file_sync %s -> %s (mode=%s)", fs.Source, fs.Destination, fs.Mode)
	return Outcome{}, nil
}

// syncMirror makes dest a bit-copy of src: every file in src is copied,
// and every file in dest with no counterpart in src is removed.
func syncMirror(src, dest string) error {
	srcFiles, err := relFileSet(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dest, err)
	}
	for rel := range srcFiles {
		if err := atomicCopyFile(filepath.Join(src, rel), filepath.Join(dest, rel)); err != nil {
			return err
		}
	}

	destFiles, err := relFileSet(dest)
	if err != nil {
		return err
	}
	for rel := range destFiles {
		if _, ok := srcFiles[rel]; !ok {
			if err := os.Remove(filepath.Join(dest, rel)); err != nil {
				return fmt.Errorf("remove extraneous %s: %w", rel, err)
			}
		}
	}
	return pruneEmptyDirs(dest)
}

// syncAddOnly copies files from src that do not already exist at dest.
func syncAddOnly(src, dest string) error {
	srcFiles, err := relFileSet(src)
	if err != nil {
		return err
	}
	for rel := range srcFiles {
		target := filepath.Join(dest, rel)
		if _, err := os.Stat(target); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", target, err)
		}
		if err := atomicCopyFile(filepath.Join(src, rel), target); err != nil {
			return err
		}
	}
	return nil
}

// syncOverwriteExisting copies everything from src, overwriting existing
// dest files, but never removes extraneous dest files.
func syncOverwriteExisting(src, dest string) error {
	srcFiles, err := relFileSet(src)
	if err != nil {
		return err
	}
	for rel := range srcFiles {
		if err := atomicCopyFile(filepath.Join(src, rel), filepath.Join(dest, rel)); err != nil {
			return err
		}
	}
	return nil
}

func relFileSet(root string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		out[filepath.Base(root)] = struct{}{}
		return out, nil
	}
	err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out[rel] = struct{}{}
		return nil
	})
	return out, err
}

// pruneEmptyDirs removes now-empty subdirectories left behind by mirror
// removing their last file.
func pruneEmptyDirs(root string) error {
	var dirs []string
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			os.Remove(dirs[i])
		}
	}
	return nil
}

// kvFile is a parsed KEY=VALUE configuration file: ordered lines, some of
// which are key-value pairs and some of which are preserved verbatim
// (comments, blank lines).
type kvFile struct {
	order    []string          // key order as first seen
	values   map[string]string // key -> value
	verbatim []string          // comment/blank lines, interleaved positionally with order via lineKind
	lineKind []byte            // 'k' = key line (index into order), 'v' = verbatim line (index into verbatim)
}

func parseKVFile(data []byte) *kvFile {
	kv := &kvFile{values: map[string]string{}}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			kv.verbatim = append(kv.verbatim, line)
			kv.lineKind = append(kv.lineKind, 'v')
			continue
		}
		eq := strings.Index(trimmed, "=")
		if eq < 0 {
			kv.verbatim = append(kv.verbatim, line)
			kv.lineKind = append(kv.lineKind, 'v')
			continue
		}
		key := strings.TrimSpace(trimmed[:eq])
		val := trimmed[eq+1:]
		kv.order = append(kv.order, key)
		kv.values[key] = val
		kv.lineKind = append(kv.lineKind, 'k')
	}
	return kv
}

// render writes the destination's verbatim/comment lines back in place,
// and key lines using the final resolved value set.
func (kv *kvFile) render(finalValues map[string]string, finalOrder []string) []byte {
	var buf bytes.Buffer
	keyIdx, verbIdx := 0, 0
	seen := map[string]bool{}

	for _, kind := range kv.lineKind {
		switch kind {
		case 'k':
			key := kv.order[keyIdx]
			keyIdx++
			if v, ok := finalValues[key]; ok && !seen[key] {
				fmt.Fprintf(&buf, "%s=%s\n", key, v)
				seen[key] = true
			}
		case 'v':
			buf.WriteString(kv.verbatim[verbIdx])
			buf.WriteByte('\n')
			verbIdx++
		}
	}

	for _, key := range finalOrder {
		if seen[key] {
			continue
		}
		fmt.Fprintf(&buf, "%s=%s\n", key, finalValues[key])
	}

	return buf.Bytes()
}

func handleFileMerge(ctx context.Context, spec manifest.ActionSpec, rc *Context) (Outcome, error) {
	fm := spec.FileMerge
	if fm == nil {
		return Outcome{}, fmt.Errorf("actions: file_merge action missing its spec payload")
	}

	srcPath, err := archive.SafeJoin(rc.StagedRoot, fm.Source)
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: file_merge: %w", err)
	}

	srcData, err := os.ReadFile(srcPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: file_merge: read source %s: %w", srcPath, err)
	}
	destData, err := readFileOrEmpty(fm.Destination)
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: file_merge: read destination %s: %w", fm.Destination, err)
	}

	src := parseKVFile(srcData)
	dest := parseKVFile(destData)

	finalValues := map[string]string{}
	var finalOrder []string
	addKey := func(key, val string) {
		if _, exists := finalValues[key]; !exists {
			finalOrder = append(finalOrder, key)
		}
		finalValues[key] = val
	}

	switch fm.Strategy {
	case manifest.MergeKeepExisting:
		for _, k := range dest.order {
			addKey(k, dest.values[k])
		}
		for _, k := range src.order {
			if _, exists := finalValues[k]; !exists {
				addKey(k, src.values[k])
			}
		}
	case manifest.MergeOverwriteAll:
		for _, k := range src.order {
			addKey(k, src.values[k])
		}
		for _, k := range dest.order {
			if _, exists := finalValues[k]; !exists {
				addKey(k, dest.values[k])
			}
		}
	case manifest.MergeMergeKeys, "":
		// Union of both sets; destination wins on conflict (spec.md §4.2) —
		// same resolution as keep_existing.
		for _, k := range dest.order {
			addKey(k, dest.values[k])
		}
		for _, k := range src.order {
			if _, exists := finalValues[k]; !exists {
				addKey(k, src.values[k])
			}
		}
	default:
		return Outcome{}, fmt.Errorf("actions: file_merge: unknown strategy %q", fm.Strategy)
	}

	rendered := dest.render(finalValues, finalOrder)
	if err := atomicWriteFile(fm.Destination, rendered, 0o644); err != nil {
		return Outcome{}, fmt.Errorf("actions: file_merge: write %s: %w", fm.Destination, err)
	}
	rc.logf("file_merge %s + %s -> %s (strategy=%s)", fm.Destination, fm.Source, fm.Destination, fm.Strategy)
	return Outcome{}, nil
}

func readFileOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

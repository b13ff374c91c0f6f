// Package workspace manages per-task working directories: materializing the
// initial file set, snapshotting contents before a run, and diffing the
// directory afterwards to collect the files the agent created or changed.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Snapshot maps workspace-relative file paths to a sha256 content digest.
// Storing digests rather than contents keeps large workspaces cheap to hold
// in memory; Diff re-reads only the files that changed.
type Snapshot map[string]string

// Take captures the current file set of root. A root that does not exist yet
// is treated as an empty snapshot. Dot-prefixed files and directories are
// ignored, and symlinks are never followed, so the snapshot cannot reach
// outside root.
func Take(root string) (Snapshot, error) {
	snap := Snapshot{}

	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to access workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace path is not a directory: %s", root)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		// Skip symlinks entirely: following one could read outside root.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		digest, hashErr := hashFile(path)
		if hashErr != nil {
			return hashErr
		}
		snap[filepath.ToSlash(rel)] = digest
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot workspace: %w", err)
	}
	return snap, nil
}

// Diff walks root after a run and returns the contents of every file that is
// new or whose digest differs from the pre-run snapshot. Deleted paths are
// not reported; the modified-files view is strictly additive. Files that are
// not valid UTF-8 text are skipped, matching the contract that results carry
// textual file contents.
func Diff(root string, before Snapshot) (map[string]string, error) {
	after, err := Take(root)
	if err != nil {
		return nil, err
	}

	changed := map[string]string{}
	for rel, digest := range after {
		if prev, ok := before[rel]; ok && prev == digest {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("failed to read modified file %s: %w", rel, err)
		}
		if !utf8.Valid(data) {
			continue
		}
		changed[rel] = string(data)
	}
	return changed, nil
}

// Materialize writes the given file set into root, creating parent
// directories as needed. Paths that would escape root after cleaning are
// skipped. It returns the set of relative paths actually written.
func Materialize(root string, files map[string]string) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	var written []string
	for name, content := range files {
		target := filepath.Join(absRoot, filepath.FromSlash(name))
		if !strings.HasPrefix(target, absRoot+string(filepath.Separator)) {
			// Path traversal attempt (e.g. "../../etc/passwd"). Skip it.
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return written, fmt.Errorf("failed to create directory for %s: %w", name, err)
		}
		if err := os.WriteFile(target, []byte(content), 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", name, err)
		}
		written = append(written, name)
	}
	return written, nil
}

// hashFile returns the hex sha256 digest of the file at path.
func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Package integrity implements the Integrity Baseline (C10): a
// content-hash snapshot of the source tree and its later verification,
// per spec.md §4.9.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/core-governance/core/internal/governance/model"
)

// ignoreDirs mirrors the Auditor's file-enumeration ignore-set, per
// spec.md §4.9's "traversal skips the same ignore-set as the auditor."
var ignoreDirs = map[string]bool{
	"__pycache__": true, "venv": true, ".venv": true, "env": true, ".env": true,
	"node_modules": true, "dist": true, "build": true, ".git": true,
}

// VerifyResult is the tri-partition outcome of Verify against a live
// tree: files whose hash changed, files the baseline recorded that no
// longer exist, and files present now that the baseline never saw.
type VerifyResult struct {
	OK       bool     `json:"ok"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
	Added    []string `json:"added"`
	Errors   []string `json:"errors"`
}

func baselinePath(reportsRoot, label string) string {
	return filepath.Join(reportsRoot, "integrity", fmt.Sprintf("%s.json", label))
}

// CreateBaseline snapshots sourceRoot as {relpath -> sha256}, persisting
// it under reportsRoot/integrity/<label>.json, and returns the path
// written.
func CreateBaseline(fs afero.Fs, sourceRoot, reportsRoot, label string) (string, error) {
	hashes, err := snapshot(fs, sourceRoot)
	if err != nil {
		return "", fmt.Errorf("snapshot source tree: %w", err)
	}

	baseline := model.IntegrityBaseline{
		Label:         label,
		PerFileSHA256: hashes,
		CreatedAt:     time.Now().UTC(),
	}

	path := baselinePath(reportsRoot, label)
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create baseline dir: %w", err)
	}
	if err := afero.WriteFile(fs, path+".tmp", mustMarshal(baseline), 0o644); err != nil {
		return "", fmt.Errorf("write baseline temp file: %w", err)
	}
	if err := fs.Rename(path+".tmp", path); err != nil {
		return "", fmt.Errorf("rename baseline file: %w", err)
	}
	return path, nil
}

// Verify compares the baseline recorded under label against the live
// sourceRoot, reporting the tri-partition. A missing baseline is an
// ok=false outcome, never a crash, per spec.md §4.9.
func Verify(fs afero.Fs, sourceRoot, reportsRoot, label string) (*VerifyResult, error) {
	path := baselinePath(reportsRoot, label)
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return &VerifyResult{OK: false, Errors: []string{fmt.Sprintf("baseline %q not found", label)}}, nil
	}

	var baseline model.IntegrityBaseline
	if err := json.Unmarshal(data, &baseline); err != nil {
		return &VerifyResult{OK: false, Errors: []string{fmt.Sprintf("baseline %q is corrupt: %v", label, err)}}, nil
	}

	live, err := snapshot(fs, sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("snapshot live tree: %w", err)
	}

	result := &VerifyResult{OK: true}
	for relpath, baselineHash := range baseline.PerFileSHA256 {
		liveHash, ok := live[relpath]
		if !ok {
			result.Deleted = append(result.Deleted, relpath)
			continue
		}
		if liveHash != baselineHash {
			result.Modified = append(result.Modified, relpath)
		}
	}
	for relpath := range live {
		if _, ok := baseline.PerFileSHA256[relpath]; !ok {
			result.Added = append(result.Added, relpath)
		}
	}

	sort.Strings(result.Deleted)
	sort.Strings(result.Modified)
	sort.Strings(result.Added)

	result.OK = len(result.Modified) == 0 && len(result.Deleted) == 0 && len(result.Added) == 0
	return result, nil
}

// snapshot walks root, skipping the static ignore-set, hashing each
// file's raw bytes with SHA-256 (no newline normalization, per spec.md
// §4.9's "canonical file bytes" invariant).
func snapshot(fs afero.Fs, root string) (map[string]string, error) {
	exists, err := afero.DirExists(fs, root)
	if err != nil {
		return nil, err
	}
	if !exists {
		return map[string]string{}, nil
	}

	hashes := make(map[string]string)
	err = afero.Walk(fs, root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			if path != root && ignoreDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		data, readErr := afero.ReadFile(fs, path)
		if readErr != nil {
			return readErr
		}
		sum := sha256.Sum256(data)
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		hashes[rel] = hex.EncodeToString(sum[:])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

func mustMarshal(v any) []byte {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("integrity: marshal baseline: %v", err))
	}
	return data
}

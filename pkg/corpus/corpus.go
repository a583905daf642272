// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus handles per-session temp-directory provisioning, seed
// unpacking, subset sampling and merge-back for the flat,
// content-hash-named corpus directory. Plain functions over
// os/filepath, no package-global state.
package corpus

import (
	"archive/zip"
	"crypto/sha1" //nolint:gosec // content-addressing only, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/google/fuzzcore/pkg/log"
)

// SeedCorpusArchiveSuffix matches the fuzz target binary's seed corpus
// archive naming convention, e.g. "my_fuzzer_seed_corpus.zip".
const SeedCorpusArchiveSuffix = "_seed_corpus.zip"

// MaxFilesForUnpack is the default threshold below which unpacking proceeds
// even without Force.
const MaxFilesForUnpack = 5

// NewCorpusDir creates (recreating if necessary) an empty directory named
// name under root. It is the caller's responsibility to remove root on
// session exit; NewCorpusDir never registers cleanup itself.
func NewCorpusDir(root, name string) (string, error) {
	dir := filepath.Join(root, name)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("corpus: recreate %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("corpus: create %s: %w", dir, err)
	}
	return dir, nil
}

// UnpackSeedIfNeeded expands the fuzz target's seed corpus archive (named
// targetPath+SeedCorpusArchiveSuffix) into corpusDir, unless the corpus
// already has at least maxFilesForUnpack files and force is false. Entries
// larger than maxBytes or that are directories are skipped. Unpacked
// entries are renamed to sequential zero-padded indices so nested
// archive paths can't collide.
func UnpackSeedIfNeeded(targetPath, corpusDir string, maxBytes int64, force bool, maxFilesForUnpack int) error {
	archivePath := targetPath + SeedCorpusArchiveSuffix
	if _, err := os.Stat(archivePath); err != nil {
		return nil // no seed corpus shipped for this target, nothing to do
	}

	existing, err := countFiles(corpusDir)
	if err != nil {
		return err
	}
	if !force && existing >= maxFilesForUnpack {
		log.Logf(2, "corpus: skipping seed unpack, already have %d files", existing)
		return nil
	}

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("corpus: open seed archive %s: %w", archivePath, err)
	}
	defer r.Close()

	idx := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if maxBytes > 0 && int64(f.UncompressedSize64) > maxBytes {
			continue
		}
		if err := extractEntry(f, filepath.Join(corpusDir, sequentialName(idx))); err != nil {
			return err
		}
		idx++
	}
	return nil
}

func extractEntry(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("corpus: open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("corpus: create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("corpus: write %s: %w", dst, err)
	}
	return nil
}

func sequentialName(idx int) string {
	return fmt.Sprintf("%016d", idx)
}

// CopyFromCorpus randomly samples n distinct files out of src (recursing
// into subdirectories, flattening the result) and copies them into dst
// under fresh sequential names.
func CopyFromCorpus(rnd *rand.Rand, dst, src string, n int) error {
	var files []string
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("corpus: walk %s: %w", src, err)
	}
	if n > len(files) {
		n = len(files)
	}
	rnd.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
	sample := files[:n]

	for i, path := range sample {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("corpus: read %s: %w", path, err)
		}
		out := filepath.Join(dst, sequentialName(i))
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("corpus: write %s: %w", out, err)
		}
	}
	return nil
}

// MoveMergeableUnits moves every file from mergeDir into corpusDir, except
// those whose basename is both already present in corpusDir and looks like
// an already-hashed survivor (a 40-char hex digest) - those are assumed to
// be the same input the merge step re-derived, so moving them again would
// be a wasted rename.
func MoveMergeableUnits(mergeDir, corpusDir string) (moved int, err error) {
	initial, err := listNames(corpusDir)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(mergeDir)
	if err != nil {
		return 0, fmt.Errorf("corpus: read %s: %w", mergeDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if initial[name] && isSHA1Hash(name) {
			continue
		}
		src := filepath.Join(mergeDir, name)
		dst := filepath.Join(corpusDir, name)
		if err := os.Rename(src, dst); err != nil {
			return moved, fmt.Errorf("corpus: move %s: %w", src, err)
		}
		moved++
	}
	return moved, nil
}

// HashName returns the content-hash name a survivor gets once it's
// folded into the shared corpus.
func HashName(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

const hexDigits = "0123456789abcdefABCDEF"

func isSHA1Hash(name string) bool {
	if len(name) != 40 {
		return false
	}
	for _, c := range name {
		if !containsRune(hexDigits, c) {
			return false
		}
	}
	return true
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}

func countFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("corpus: read %s: %w", dir, err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n, nil
}

func listNames(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("corpus: read %s: %w", dir, err)
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.Name()] = true
	}
	return out, nil
}

// Count returns the current number of files directly under dir (no
// recursion), used by Prepare to decide whether the corpus-subset
// strategy should kick in.
func Count(dir string) (int, error) {
	return countFiles(dir)
}

// SubsetSizes is the weighted pool of subset sizes the prepare step
// draws from; duplicated entries are likelier picks.
var SubsetSizes = []int{10, 20, 50, 75, 75, 100, 100, 100, 125, 125, 150}

func PickSubsetSize(rnd *rand.Rand) int {
	return SubsetSizes[rnd.Intn(len(SubsetSizes))]
}


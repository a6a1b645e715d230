// Package dataset persists captured calibration frames on disk, one image
// file per (side, pose, repeat) key, so the batch phase can be rerun
// standalone against a previously captured set.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Store writes and lists dataset entries under Root, grouped per side:
// <root>/<side>/<side>_p<pose>_r<repeat>.png
type Store struct {
	Root string
}

// Filename returns the stable, collision-free name for a key triple.
func Filename(side string, pose, repeat int) string {
	return fmt.Sprintf("%s_p%02d_r%02d.png", side, pose, repeat)
}

// parseFilename inverts Filename. ok is false for foreign files.
func parseFilename(side, name string) (pose, repeat int, ok bool) {
	rest, found := strings.CutPrefix(name, side+"_p")
	if !found {
		return 0, 0, false
	}
	rest, found = strings.CutSuffix(rest, ".png")
	if !found {
		return 0, 0, false
	}
	parts := strings.Split(rest, "_r")
	if len(parts) != 2 {
		return 0, 0, false
	}
	pose, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	repeat, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return pose, repeat, true
}

// EnsureDirs creates the per-side directories.
func (s *Store) EnsureDirs() error {
	for _, side := range []string{"left", "right"} {
		if err := os.MkdirAll(filepath.Join(s.Root, side), 0o755); err != nil {
			return errors.Wrap(err, "creating dataset directories")
		}
	}
	return nil
}

// Put persists an image under its key. Idempotent on name: a later write
// with the same key overwrites the earlier file, which matters when a pose
// is revisited after a partial run.
func (s *Store) Put(side string, pose, repeat int, img gocv.Mat) (string, error) {
	path := filepath.Join(s.Root, side, Filename(side, pose, repeat))
	if ok := gocv.IMWrite(path, img); !ok {
		return "", errors.Errorf("failed to write %s", path)
	}
	return path, nil
}

// List returns the paths of all entries for a side, sorted by name. The
// order carries no meaning beyond the key encoded in each name.
func (s *Store) List(side string) ([]string, error) {
	dir := filepath.Join(s.Root, side)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "listing dataset side %q", side)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, _, ok := parseFilename(side, e.Name()); !ok {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Pair is a matched left/right entry sharing a (pose, repeat) key.
type Pair struct {
	Pose   int
	Repeat int
	Left   string
	Right  string
}

// Pairs returns every key triple present on both sides, ordered by key.
// Entries missing their counterpart are skipped.
func (s *Store) Pairs() ([]Pair, error) {
	lefts, err := s.List("left")
	if err != nil {
		return nil, err
	}

	var pairs []Pair
	for _, leftPath := range lefts {
		pose, repeat, ok := parseFilename("left", filepath.Base(leftPath))
		if !ok {
			continue
		}
		rightPath := filepath.Join(s.Root, "right", Filename("right", pose, repeat))
		if _, err := os.Stat(rightPath); err != nil {
			continue
		}
		pairs = append(pairs, Pair{Pose: pose, Repeat: repeat, Left: leftPath, Right: rightPath})
	}
	return pairs, nil
}

// DeleteAll clears the dataset before a fresh capture run.
func (s *Store) DeleteAll() error {
	if err := os.RemoveAll(s.Root); err != nil {
		return errors.Wrap(err, "deleting dataset")
	}
	return nil
}

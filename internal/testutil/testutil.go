// Package testutil provides shared test fixtures: temporary files and
// small synthetic experiment datasets in the CSV layout read by the
// dataset package.
package testutil

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// WriteFile writes content to dir/name and returns the path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteDataset writes an experiment file and a fixation file to a fresh
// temporary directory and returns their paths.
func WriteDataset(t testing.TB, expCSV, fixCSV string) (expPath, fixPath string) {
	t.Helper()
	dir := t.TempDir()
	return WriteFile(t, dir, "expdata.csv", expCSV), WriteFile(t, dir, "fixations.csv", fixCSV)
}

var orientations = []int{-15, -10, -5, 0, 5, 10, 15}

// SyntheticDataset returns a deterministic experiment and fixation CSV pair
// with the given number of subjects and trials per subject. Each trial
// starts with a short non-item fixation and then alternates two or three
// times between the items; the last fixated item is chosen more often than
// not.
func SyntheticDataset(subjects, trialsPerSubject int, seed uint64) (expCSV, fixCSV string) {
	rng := rand.New(rand.NewPCG(seed, seed+1))

	var exp, fix strings.Builder
	exp.WriteString("parcode,trial,rt,choice,dist_left,dist_right\n")
	fix.WriteString("parcode,trial,fix_item,fix_time\n")

	for s := 1; s <= subjects; s++ {
		subject := fmt.Sprintf("s%d", s)
		for trial := 1; trial <= trialsPerSubject; trial++ {
			left := orientations[rng.IntN(len(orientations))]
			right := orientations[rng.IntN(len(orientations))]
			for right == left {
				right = orientations[rng.IntN(len(orientations))]
			}

			latency := 100 + rng.IntN(200)
			fmt.Fprintf(&fix, "%s,%d,0,%d\n", subject, trial, latency)
			rt := latency
			item := 1 + rng.IntN(2)
			n := 2 + rng.IntN(2)
			for i := 0; i < n; i++ {
				d := 200 + rng.IntN(400)
				fmt.Fprintf(&fix, "%s,%d,%d,%d\n", subject, trial, item, d)
				rt += d
				if i < n-1 {
					fmt.Fprintf(&fix, "%s,%d,4,20\n", subject, trial)
					rt += 20
					item = 3 - item
				}
			}

			// -1 is left, 1 is right.
			choice := -1
			if item == 2 {
				choice = 1
			}
			if rng.Float64() < 0.2 {
				choice = -choice
			}
			fmt.Fprintf(&exp, "%s,%d,%d,%d,%d,%d\n", subject, trial, rt, choice, left, right)
		}
	}
	return exp.String(), fix.String()
}

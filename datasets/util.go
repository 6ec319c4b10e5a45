package datasets

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// countCSVRows counts the number of data rows in a CSV file (excluding header)
func countCSVRows(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	// Skip header
	if _, err := reader.Read(); err != nil {
		return 0, err
	}

	count := 0
	for {
		_, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		count++
	}

	return count, nil
}

// Auto-discovery helpers

// SplitInfo describes one manifest found under a dataroot.
type SplitInfo struct {
	Split string
	Path  string
	Rows  int
}

// AvailableSplits lists the train/val/test manifests present under dataroot,
// in that order, with their data row counts.
func AvailableSplits(dataroot string) ([]SplitInfo, error) {
	var found []SplitInfo
	for _, split := range []string{SplitTrain, SplitVal, SplitTest} {
		path := filepath.Join(dataroot, split+".csv")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		rows, err := countCSVRows(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to count rows in %s", path)
		}
		found = append(found, SplitInfo{Split: split, Path: path, Rows: rows})
	}
	return found, nil
}

// FindDataroot returns the first candidate directory holding a train.csv
// manifest.
func FindDataroot(candidates []string) (string, error) {
	for _, dir := range candidates {
		matches, err := filepath.Glob(filepath.Join(dir, SplitTrain+".csv"))
		if err == nil && len(matches) > 0 {
			return dir, nil
		}
	}
	return "", errors.Errorf("no dataroot with %s.csv found in %v", SplitTrain, candidates)
}

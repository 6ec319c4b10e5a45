package datasets

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Split names accepted by SplitPath and NewOneShotDataset.
const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"
)

// SplitIndex groups the samples of one manifest by class label.
//
// Samples keep their manifest row order within a class. Classes holds the
// labels sorted lexicographically; the position of a label in Classes is its
// global class index.
type SplitIndex struct {
	// Path of the manifest this index was loaded from.
	Path string

	// Classes sorted lexicographically. Classes[i] has global index i.
	Classes []string

	samples    map[string][]string
	classIndex map[string]int
	numSamples int
}

// ValidSplit reports whether split is one of train, val or test.
func ValidSplit(split string) bool {
	switch split {
	case SplitTrain, SplitVal, SplitTest:
		return true
	}
	return false
}

// SplitPath returns <dataroot>/<split>.csv.
func SplitPath(dataroot, split string) (string, error) {
	if !ValidSplit(split) {
		return "", errors.Errorf("unknown split %q (want train, val or test)", split)
	}
	return filepath.Join(dataroot, split+".csv"), nil
}

// LoadSplit reads a two column manifest (sample file name, class label) with a
// header row and groups the samples by label. Extra columns are ignored.
//
// Any failure, including a manifest without a single data row, is reported as
// ErrDataLoad: episode planning is undefined on an empty class pool.
func LoadSplit(path string) (*SplitIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrDataLoad, "open manifest %s: %v", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	// Row width is checked below so the error can name the row.
	reader.FieldsPerRecord = -1

	// Skip header
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, errors.Wrapf(ErrDataLoad, "manifest %s is empty", path)
		}
		return nil, errors.Wrapf(ErrDataLoad, "read header of %s: %v", path, err)
	}

	s := &SplitIndex{
		Path:    path,
		samples: make(map[string][]string),
	}

	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, errors.Wrapf(ErrDataLoad, "read %s row %d: %v", path, row, err)
		}
		if len(record) < 2 {
			return nil, errors.Wrapf(ErrDataLoad, "%s row %d: expected at least 2 columns, got %d", path, row, len(record))
		}
		filename := strings.TrimSpace(record[0])
		label := strings.TrimSpace(record[1])
		if filename == "" || label == "" {
			return nil, errors.Wrapf(ErrDataLoad, "%s row %d: empty sample or label", path, row)
		}
		s.samples[label] = append(s.samples[label], filename)
		s.numSamples++
	}

	if len(s.samples) == 0 {
		return nil, errors.Wrapf(ErrDataLoad, "manifest %s has no classes", path)
	}

	s.Classes = make([]string, 0, len(s.samples))
	for label := range s.samples {
		s.Classes = append(s.Classes, label)
	}
	sort.Strings(s.Classes)

	s.classIndex = make(map[string]int, len(s.Classes))
	for i, label := range s.Classes {
		s.classIndex[label] = i
	}
	return s, nil
}

// NumClasses returns the number of distinct labels.
func (s *SplitIndex) NumClasses() int {
	return len(s.Classes)
}

// NumSamples returns the number of data rows read from the manifest.
func (s *SplitIndex) NumSamples() int {
	return s.numSamples
}

// Pool returns the samples of a label in manifest order. The slice must not be
// modified.
func (s *SplitIndex) Pool(label string) []string {
	return s.samples[label]
}

// PoolAt returns the samples of the class with global index idx.
func (s *SplitIndex) PoolAt(idx int) []string {
	return s.samples[s.Classes[idx]]
}

// ClassIndex returns the global index of label.
func (s *SplitIndex) ClassIndex(label string) (int, bool) {
	idx, ok := s.classIndex[label]
	return idx, ok
}

// MinPoolSize returns the size of the smallest class and its label.
func (s *SplitIndex) MinPoolSize() (label string, size int) {
	size = -1
	for _, l := range s.Classes {
		n := len(s.samples[l])
		if size < 0 || n < size {
			label, size = l, n
		}
	}
	return label, size
}

// Package corpus loads labeled email samples from disk. It understands the
// enron-style directory layout with train/test splits and ham/spam
// subdirectories, one email per txt file, as well as flat sample files with
// one message per line.
package corpus

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pkgz/fileutils"

	"github.com/umputun/mail-spam/lib/bayes"
)

// Set is a labeled corpus split into training and test parts
type Set struct {
	Train []bayes.Sample
	Test  []bayes.Sample
}

// LoadDir reads a corpus from <path>/{train,test}/{ham,spam}/*.txt.
// The train split is required, the test split is optional.
func LoadDir(path string) (Set, error) {
	res := Set{}
	var err error
	if res.Train, err = loadSplit(filepath.Join(path, "train")); err != nil {
		return Set{}, fmt.Errorf("failed to load train corpus: %w", err)
	}

	testDir := filepath.Join(path, "test")
	if _, serr := os.Stat(testDir); serr != nil {
		log.Printf("[DEBUG] no test split in %s", path)
		return res, nil
	}
	if res.Test, err = loadSplit(testDir); err != nil {
		return Set{}, fmt.Errorf("failed to load test corpus: %w", err)
	}
	return res, nil
}

// loadSplit reads ham and spam subdirectories of a single split
func loadSplit(dir string) ([]bayes.Sample, error) {
	var samples []bayes.Sample
	for _, class := range []bayes.Class{bayes.Ham, bayes.Spam} {
		classDir := filepath.Join(dir, string(class))
		if _, err := os.Stat(classDir); err != nil {
			return nil, fmt.Errorf("missing %s directory: %w", class, err)
		}
		files, err := fileutils.ListFiles(classDir)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", classDir, err)
		}
		for _, file := range files {
			if !strings.HasSuffix(file, ".txt") {
				continue
			}
			text, err := readEmail(file)
			if err != nil {
				return nil, err
			}
			samples = append(samples, bayes.Sample{Text: text, Class: class})
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples in %s", dir)
	}
	return samples, nil
}

// readEmail reads a single email file into one line of text.
// The "Subject:" header prefix is dropped, the body is kept as-is.
func readEmail(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // the path comes from the corpus directory listing
	if err != nil {
		return "", fmt.Errorf("failed to read email %s: %w", path, err)
	}
	text := strings.TrimPrefix(string(data), "Subject:")
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.TrimSpace(text), nil
}

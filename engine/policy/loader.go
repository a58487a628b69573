package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadDir reads every .txt file in dir and returns a doc-id to text map,
// keyed by base filename. Subdirectories are not descended into; the SOP
// corpus is a flat directory of plain-text documents.
func LoadDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("policy: read dir %s: %w", dir, err)
	}

	docs := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("policy: read %s: %w", e.Name(), err)
		}
		docs[e.Name()] = string(data)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("policy: no .txt documents in %s", dir)
	}
	return docs, nil
}

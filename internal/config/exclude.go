package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// LoadExcludeList reads an entity exclusion file: one UUID per line,
// blank lines and #-comments ignored. A malformed line is an error so a
// typo never silently includes an entity the operator meant to skip.
func LoadExcludeList(path string) (map[uuid.UUID]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open exclude list %s: %w", path, err)
	}
	defer f.Close()

	out := make(map[uuid.UUID]bool)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := uuid.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("exclude list %s line %d: %w", path, lineNo, err)
		}
		out[id] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read exclude list %s: %w", path, err)
	}
	return out, nil
}

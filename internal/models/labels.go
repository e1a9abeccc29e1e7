package models

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Labels maps class indices to names.
type Labels struct {
	Names []string
}

// removeBOM removes UTF-8 BOM if present from the first line.
func removeBOM(line string, isFirstLine bool) string {
	if isFirstLine {
		return strings.TrimPrefix(line, "\uFEFF")
	}
	return line
}

// ParseLabels reads one label per line. Lines are trimmed and NFC
// normalized; blank lines are skipped.
func ParseLabels(r io.Reader) (*Labels, error) {
	scanner := bufio.NewScanner(r)
	names := make([]string, 0, 80)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := removeBOM(scanner.Text(), lineNum == 1)
		line = norm.NFC.String(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading labels: %w", err)
	}
	if len(names) == 0 {
		return nil, errors.New("label file is empty")
	}
	return &Labels{Names: names}, nil
}

// LoadLabels loads a label file.
func LoadLabels(path string) (*Labels, error) {
	if path == "" {
		return nil, errors.New("labels path cannot be empty")
	}
	f, err := os.Open(path) //nolint:gosec // G304: opening a user-provided label file is expected
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("Error closing label file", "path", path, "error", err)
		}
	}()
	l, err := ParseLabels(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Len returns the number of labels.
func (l *Labels) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Names)
}

// Name returns the label of class, or "class_<n>" when unknown. A nil
// *Labels is valid.
func (l *Labels) Name(class int) string {
	if l != nil && class >= 0 && class < len(l.Names) {
		return l.Names[class]
	}
	return fmt.Sprintf("class_%d", class)
}

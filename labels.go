package hornetlock

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadLabels reads the model class names from a text file with one label
// per line
func LoadLabels(file string) ([]string, error) {

	f, err := os.Open(file)

	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}

	defer f.Close()

	scanner := bufio.NewScanner(f)

	var labels []string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		labels = append(labels, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	return labels, nil
}

// ClassID returns the index of name in labels, compared case insensitively
func ClassID(labels []string, name string) (int, error) {

	for i, l := range labels {
		if strings.EqualFold(l, name) {
			return i, nil
		}
	}

	return -1, fmt.Errorf("label %q not found in %d labels", name, len(labels))
}

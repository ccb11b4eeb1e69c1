package notify

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadRecipients reads a plain text recipient list: one address per line,
// blank lines and lines starting with # ignored.
func LoadRecipients(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipients file: %w", err)
	}
	defer file.Close()

	var recipients []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		recipients = append(recipients, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read recipients file: %w", err)
	}
	return recipients, nil
}

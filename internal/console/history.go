package console

import (
	"os"
	"strings"
)

func loadHistory(filename string) []string {
	if filename == "" {
		return nil
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil
	}
	var history []string
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			history = append(history, line)
		}
	}
	return history
}

// appendHistory adds one line to the history file, creating it if needed.
func appendHistory(filename, line string) error {
	if filename == "" {
		return nil
	}
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

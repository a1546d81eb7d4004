package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AppendLine appends a line to a file, creating it if needed.
// Retries up to 3 times with backoff.
func AppendLine(path string, line []byte) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond)
		}
		if err := appendLineOnce(path, line); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("after 3 attempts: %w", lastErr)
}

func appendLineOnce(path string, line []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening file %s: %w", path, err)
	}
	defer f.Close()

	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("writing to file: %w", err)
	}

	return f.Sync()
}

package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var _ Logger = (*FileLogger)(nil)

// FileLogger appends audit events to a JSONL file. Every event is
// synced before Log returns so a crash cannot lose acknowledged
// records.
type FileLogger struct {
	mu   sync.Mutex
	path string
	file *os.File
}

type FileOptions struct {
	FilePath string `json:"file_path"`
}

// NewFileLogger creates a file-backed audit logger. The parent
// directory is created with mode 0700 and the log file with 0600.
func NewFileLogger(config *Config) (*FileLogger, error) {
	var opts FileOptions
	if err := decodeOptions(config.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid file logger options: %w", err)
	}
	if opts.FilePath == "" {
		return nil, fmt.Errorf("file_path is required for file logger")
	}

	if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &FileLogger{path: opts.FilePath, file: file}, nil
}

func (fl *FileLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	return fl.writeEvent(newEvent(action, success, metadata))
}

func (fl *FileLogger) writeEvent(event Event) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	// A previous vault sharing this logger may have closed the file.
	if fl.file == nil {
		file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to reopen audit log: %w", err)
		}
		fl.file = file
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}
	if _, err = fl.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if err = fl.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return nil
}

// Query reads the log file back and returns events matching the
// filters, newest first.
func (fl *FileLogger) Query(options QueryOptions) ([]Event, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	file, err := os.Open(fl.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event Event
		if err = json.Unmarshal([]byte(line), &event); err != nil {
			// Skip lines torn by a crash mid-write.
			continue
		}
		if matchesFilter(event, options) {
			events = append(events, event)
		}
	}
	if err = scanner.Err(); err != nil {
		return events, fmt.Errorf("error reading audit log file: %w", err)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if options.Limit > 0 && len(events) > options.Limit {
		events = events[:options.Limit]
	}
	return events, nil
}

func matchesFilter(event Event, options QueryOptions) bool {
	if options.Since != nil && event.Timestamp.Before(*options.Since) {
		return false
	}
	if options.Until != nil && event.Timestamp.After(*options.Until) {
		return false
	}
	if options.Action != "" && event.Action != options.Action {
		return false
	}
	if options.Success != nil && event.Success != *options.Success {
		return false
	}
	return true
}

func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file != nil {
		err := fl.file.Close()
		fl.file = nil
		return err
	}
	return nil
}

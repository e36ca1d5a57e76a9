package logger

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"time"
)

// LogEntry represents a parsed log entry
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Category  string                 `json:"category"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogReader reads, searches and tails category log files
type LogReader struct {
	logsDir      string
	pollInterval time.Duration
}

// NewLogReader creates a new log reader
func NewLogReader(logsDir string) *LogReader {
	return &LogReader{logsDir: logsDir, pollInterval: 200 * time.Millisecond}
}

// GetLogPath returns the path to a category log file for a specific date
func (lr *LogReader) GetLogPath(category LogCategory, date time.Time) string {
	return categoryLogPath(lr.logsDir, category, date)
}

// ReadLogs returns the last limit entries of a category log. A missing
// file yields no entries.
func (lr *LogReader) ReadLogs(category LogCategory, date time.Time, limit int) ([]LogEntry, error) {
	file, err := os.Open(lr.GetLogPath(category, date))
	if err != nil {
		if os.IsNotExist(err) {
			return []LogEntry{}, nil
		}
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	entries := make([]LogEntry, 0, len(lines))
	for _, line := range lines {
		entries = append(entries, parseEntry(category, line))
	}
	return entries, nil
}

// SearchLogs returns entries whose message, level or fields contain query
func (lr *LogReader) SearchLogs(category LogCategory, date time.Time, query string, limit int) ([]LogEntry, error) {
	entries, err := lr.ReadLogs(category, date, 0)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	filtered := []LogEntry{}
	for _, entry := range entries {
		if entryContains(entry, query) {
			filtered = append(filtered, entry)
		}
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// Export copies a raw category log file to w
func (lr *LogReader) Export(category LogCategory, date time.Time, w io.Writer) error {
	file, err := os.Open(lr.GetLogPath(category, date))
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return err
}

// TailLogs sends entries appended to today's category log until stop is closed
func (lr *LogReader) TailLogs(category LogCategory, entryChan chan<- LogEntry, stop <-chan struct{}) error {
	path := lr.GetLogPath(category, time.Now())

	var file *os.File
	for file == nil {
		f, err := os.Open(path)
		switch {
		case err == nil:
			file = f
		case os.IsNotExist(err):
			select {
			case <-stop:
				return nil
			case <-time.After(lr.pollInterval):
			}
		default:
			return err
		}
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	reader := bufio.NewReader(file)
	var partial string
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		chunk, err := reader.ReadString('\n')
		partial += chunk
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return err
			}
			select {
			case <-stop:
				return nil
			case <-time.After(lr.pollInterval):
			}
			continue
		}

		line := strings.TrimSpace(partial)
		partial = ""
		if line == "" {
			continue
		}
		select {
		case entryChan <- parseEntry(category, line):
		case <-stop:
			return nil
		}
	}
}

// parseEntry decodes a zap JSON line, keeping unknown keys as fields
func parseEntry(category LogCategory, line string) LogEntry {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     "info",
			Message:   line,
			Category:  string(category),
		}
	}

	entry := LogEntry{Category: string(category), Fields: map[string]interface{}{}}
	for k, v := range raw {
		s, _ := v.(string)
		switch k {
		case "ts", "timestamp":
			entry.Timestamp = s
		case "level":
			entry.Level = s
		case "msg", "message":
			entry.Message = s
		case "category":
		default:
			entry.Fields[k] = v
		}
	}
	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}
	return entry
}

func entryContains(entry LogEntry, query string) bool {
	if strings.Contains(strings.ToLower(entry.Message), query) ||
		strings.Contains(strings.ToLower(entry.Level), query) {
		return true
	}
	if len(entry.Fields) == 0 {
		return false
	}
	raw, err := json.Marshal(entry.Fields)
	return err == nil && strings.Contains(strings.ToLower(string(raw)), query)
}

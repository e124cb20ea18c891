package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

var (
	mu           sync.RWMutex
	currentLevel = INFO
	sink         *os.File
)

type entry struct {
	Level     string                 `json:"level"`
	Timestamp string                 `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// EnableFileLogging mirrors every entry as one JSON line into filePath.
func EnableFileLogging(filePath string) error {
	if strings.HasPrefix(filePath, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			filePath = filepath.Join(home, filePath[2:])
		}
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if sink != nil {
		sink.Close()
	}
	sink = file
	return nil
}

func DisableFileLogging() {
	mu.Lock()
	defer mu.Unlock()
	if sink != nil {
		sink.Close()
		sink = nil
	}
}

func logMessage(level LogLevel, component, message string, fields map[string]interface{}) {
	mu.RLock()
	minLevel := currentLevel
	file := sink
	mu.RUnlock()

	if level < minLevel {
		return
	}

	e := entry{
		Level:     levelNames[level],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Component: component,
		Message:   message,
		Fields:    fields,
	}

	if file != nil {
		if data, err := json.Marshal(e); err == nil {
			file.WriteString(string(data) + "\n")
		}
	}

	prefix := ""
	if component != "" {
		prefix = " " + component + ":"
	}
	fieldStr := ""
	if len(fields) > 0 {
		fieldStr = " " + formatFields(fields)
	}
	log.Printf("[%s] [%s]%s %s%s", e.Timestamp, e.Level, prefix, message, fieldStr)

	if level == FATAL {
		os.Exit(1)
	}
}

func formatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func DebugC(component, message string) { logMessage(DEBUG, component, message, nil) }
func InfoC(component, message string)  { logMessage(INFO, component, message, nil) }
func WarnC(component, message string)  { logMessage(WARN, component, message, nil) }
func ErrorC(component, message string) { logMessage(ERROR, component, message, nil) }
func FatalC(component, message string) { logMessage(FATAL, component, message, nil) }

func DebugCF(component, message string, fields map[string]interface{}) {
	logMessage(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	logMessage(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	logMessage(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	logMessage(ERROR, component, message, fields)
}

package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// recordsDocument is the top-level shape of YAML, TOML and JSON record files.
type recordsDocument struct {
	Records []*WasteRecord `json:"records" yaml:"records" toml:"records"`
}

// ReadRecordsFile reads records from a backup or import file. The format is
// chosen by extension: .json (array or {"records": [...]}), .jsonl (one record
// per line), .yaml/.yml or .toml ({records = [...]}).
//
// Records missing an ID or timestamps get defaults; every record is validated.
func ReadRecordsFile(path string, now time.Time) ([]*WasteRecord, error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file %s: %w", path, err)
	}

	var records []*WasteRecord
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		records, err = decodeJSON(data)
	case ".jsonl":
		records, err = decodeJSONL(data)
	case ".yaml", ".yml":
		var doc recordsDocument
		err = yaml.Unmarshal(data, &doc)
		records = doc.Records
	case ".toml":
		var doc recordsDocument
		_, err = toml.Decode(string(data), &doc)
		records = doc.Records
	default:
		return nil, fmt.Errorf("unsupported records file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse records file %s: %w", path, err)
	}

	for i, r := range records {
		if r == nil {
			return nil, fmt.Errorf("invalid records file %s: entry %d is empty", path, i)
		}
		r.SetDefaults(now)
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("invalid record %d in %s: %w", i, path, err)
		}
	}

	return records, nil
}

func decodeJSON(data []byte) ([]*WasteRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var doc recordsDocument
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, err
		}
		return doc.Records, nil
	}
	var records []*WasteRecord
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func decodeJSONL(data []byte) ([]*WasteRecord, error) {
	var records []*WasteRecord
	decoder := json.NewDecoder(bytes.NewReader(data))
	lineNum := 0

	for {
		var r WasteRecord
		if err := decoder.Decode(&r); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++
		records = append(records, &r)
	}

	return records, nil
}

// WriteRecordsFile writes records as pretty-printed JSON, atomically via a
// temp file.
func WriteRecordsFile(path string, records []*WasteRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(recordsDocument{Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

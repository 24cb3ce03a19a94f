package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

const (
	scanInitialBuffer = 64 * 1024
	// Project descriptions can run long; a dump line fits well under this.
	scanMaxLineBytes = 32 * 1024 * 1024
)

// scanNDJSON streams the file line by line. Blank lines are skipped; the
// callback receives the raw line bytes and the 1-based line number. The
// callback owns handling of malformed lines; only I/O failures abort.
func scanNDJSON(path string, fn func(line []byte, lineNo int) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, scanInitialBuffer), scanMaxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line, lineNo); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// ndjsonWriter appends envelope lines to an output file.
type ndjsonWriter struct {
	file *os.File
	buf  *bufio.Writer
}

func newNDJSONWriter(path string) (*ndjsonWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &ndjsonWriter{file: file, buf: bufio.NewWriterSize(file, scanInitialBuffer)}, nil
}

func (w *ndjsonWriter) WriteLine(line []byte) error {
	if _, err := w.buf.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", w.file.Name(), err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("write %s: %w", w.file.Name(), err)
	}
	return nil
}

func (w *ndjsonWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("flush %s: %w", w.file.Name(), err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.file.Name(), err)
	}
	return nil
}

// writeJSONFile marshals v with two-space indentation, matching the artifact
// format the downstream tooling expects.
func writeJSONFile(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		file.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func readJSONFile(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// readCuratedFile loads a curated campaign database array.
func readCuratedFile(path string) ([]CuratedRecord, error) {
	var records []CuratedRecord
	if err := readJSONFile(path, &records); err != nil {
		return nil, err
	}
	return records, nil
}

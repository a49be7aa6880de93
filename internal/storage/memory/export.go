package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nodemc/mapsync/internal/storage"
)

// JournalExport is the root JSON structure of an exported journal.
type JournalExport struct {
	StartedAt string          `json:"startedAt"`
	Dropped   int             `json:"dropped"`
	Counts    map[string]int  `json:"counts"`
	Entries   []storage.Entry `json:"entries"`
	Samples   []Sample        `json:"samples"`
}

func (b *Backend) buildExport() JournalExport {
	export := JournalExport{
		StartedAt: b.started.UTC().Format("2006-01-02T15:04:05Z"),
		Dropped:   b.dropped,
		Counts:    make(map[string]int),
		Entries:   make([]storage.Entry, 0, len(b.entries)),
		Samples:   make([]Sample, 0, len(b.samples)),
	}
	for _, e := range b.entries {
		export.Counts[string(e.Kind)]++
		export.Entries = append(export.Entries, e)
	}
	export.Samples = append(export.Samples, b.samples...)
	return export
}

// exportJSON writes the journal to a JSON file, gzipped if configured
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	timestamp := b.started.Format("20060102_150405")
	filename := fmt.Sprintf("journal_%s.json", timestamp)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func writeJSON(path string, data JournalExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data JournalExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return fmt.Errorf("failed to encode journal: %w", err)
	}
	return gzWriter.Close()
}

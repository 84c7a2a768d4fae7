package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleEntry(i int) Entry {
	return Entry{
		Time:       time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
		Action:     ActionView,
		Role:       "viewer",
		MediaID:    fmt.Sprintf("general/%d.jpg", i),
		ClientAddr: "10.0.0.1",
		UserAgent:  "test-agent",
	}
}

func TestMemoryLogNewestFirst(t *testing.T) {
	log := NewMemoryLog(10)
	for i := 0; i < 3; i++ {
		if err := log.Append(sampleEntry(i)); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}

	entries, err := log.Read(0)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].MediaID != "general/2.jpg" {
		t.Fatalf("expected newest first, got %q", entries[0].MediaID)
	}
}

func TestMemoryLogHonorsLimit(t *testing.T) {
	log := NewMemoryLog(10)
	for i := 0; i < 5; i++ {
		if err := log.Append(sampleEntry(i)); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}
	entries, err := log.Read(2)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].MediaID != "general/4.jpg" || entries[1].MediaID != "general/3.jpg" {
		t.Fatalf("unexpected order: %q, %q", entries[0].MediaID, entries[1].MediaID)
	}
}

func TestMemoryLogEvictsOldest(t *testing.T) {
	log := NewMemoryLog(2)
	for i := 0; i < 4; i++ {
		if err := log.Append(sampleEntry(i)); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}
	entries, err := log.Read(0)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected capacity to bound entries, got %d", len(entries))
	}
	if entries[1].MediaID != "general/2.jpg" {
		t.Fatalf("expected oldest surviving entry to be 2, got %q", entries[1].MediaID)
	}
}

func TestFileLogRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "log.jsonl")
	log, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("NewFileLog returned error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := log.Append(sampleEntry(i)); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}

	entries, err := log.Read(0)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].MediaID != "general/2.jpg" {
		t.Fatalf("expected newest first, got %q", entries[0].MediaID)
	}
	if entries[0].Action != ActionView || entries[0].Role != "viewer" {
		t.Fatalf("entry fields lost: %+v", entries[0])
	}
}

func TestFileLogMissingFileReadsEmpty(t *testing.T) {
	log, err := NewFileLog(filepath.Join(t.TempDir(), "never-written.jsonl"))
	if err != nil {
		t.Fatalf("NewFileLog returned error: %v", err)
	}
	entries, err := log.Read(10)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestFileLogSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	log, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("NewFileLog returned error: %v", err)
	}
	if err := log.Append(sampleEntry(0)); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open log for corruption: %v", err)
	}
	if _, err := file.WriteString("{not json\n"); err != nil {
		t.Fatalf("write corrupt line: %v", err)
	}
	_ = file.Close()
	if err := log.Append(sampleEntry(1)); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	entries, err := log.Read(0)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected corrupt line to be skipped, got %d entries", len(entries))
	}
}

func TestFileLogRequiresPath(t *testing.T) {
	if _, err := NewFileLog("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

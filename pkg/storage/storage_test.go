package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStoreSave(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://gw.example.com/")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	url, err := store.Save("clip.mp3", []byte("mp3"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if url != "http://gw.example.com/uploads/clip.mp3" {
		t.Errorf("url = %q", url)
	}

	data, err := os.ReadFile(filepath.Join(dir, "clip.mp3"))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(data) != "mp3" {
		t.Errorf("saved data = %q", data)
	}
}

func TestLocalStoreSaveSanitizesName(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://x")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Save("../escape.mp3", []byte("x")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if got := entries[0].Name(); strings.ContainsAny(got, `/\`) {
		t.Errorf("unsanitized name on disk: %q", got)
	}
	// the file must land inside the uploads dir, not a parent
	if _, err := os.Stat(filepath.Join(dir, entries[0].Name())); err != nil {
		t.Errorf("stat sanitized file: %v", err)
	}
}

func TestLocalStoreDeleteMissingIsNoop(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://x")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("nope.mp3"); err != nil {
		t.Errorf("Delete missing = %v, want nil", err)
	}
}

func TestUploadAudioNaming(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://x")
	if err != nil {
		t.Fatal(err)
	}
	url, err := UploadAudio(store, []byte("a"))
	if err != nil {
		t.Fatalf("UploadAudio: %v", err)
	}
	base := filepath.Base(url)
	if !strings.HasPrefix(base, "audio-") || !strings.HasSuffix(base, ".mp3") {
		t.Errorf("name = %q, want audio-<uuid>.mp3", base)
	}
}

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/nescampos/coralmultichannel/pkg/utils"
)

// Store persists generated media and hands back a publicly reachable URL.
type Store interface {
	Save(name string, data []byte) (string, error)
	Delete(name string) error
	LocalDir() string
}

// LocalStore writes files to a local directory served by the gateway
// under /uploads/.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, publicBaseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (s *LocalStore) Save(name string, data []byte) (string, error) {
	name = utils.SanitizeFilename(name)
	if name == "" {
		return "", fmt.Errorf("empty file name")
	}
	path := filepath.Join(s.dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write upload temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("replace upload: %w", err)
	}
	return s.baseURL + "/uploads/" + name, nil
}

func (s *LocalStore) Delete(name string) error {
	name = utils.SanitizeFilename(name)
	if name == "" {
		return fmt.Errorf("empty file name")
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *LocalStore) LocalDir() string {
	return s.dir
}

// UploadAudio stores an MP3 under a fresh uuid name and returns its URL.
func UploadAudio(store Store, audio []byte) (string, error) {
	name := fmt.Sprintf("audio-%s.mp3", uuid.NewString())
	return store.Save(name, audio)
}

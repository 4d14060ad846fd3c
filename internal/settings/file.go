package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// fileDoc is the on-disk layout of a FileStore.
type fileDoc struct {
	Downloaders []DownloaderConfig `yaml:"downloaders"`
	Rules       DownloadRules      `yaml:"rules"`
}

// FileStore keeps settings in a single YAML file. Writes go to a temp file
// that is renamed over the original.
type FileStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

func (s *FileStore) read() (fileDoc, error) {
	var doc fileDoc
	b, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, persistence("read file", err)
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return doc, persistence("parse file", err)
	}
	return doc, nil
}

func (s *FileStore) write(doc fileDoc) error {
	b, err := yaml.Marshal(doc)
	if err != nil {
		return persistence("encode file", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return persistence("mkdir", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, b, 0o600); err != nil {
		return persistence("write file", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return persistence("rename file", err)
	}
	return nil
}

func (s *FileStore) DownloaderConfigs(ctx context.Context) ([]DownloaderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Downloaders, nil
}

func (s *FileStore) SaveDownloaderConfig(ctx context.Context, cfg DownloaderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.Downloaders = upsert(doc.Downloaders, cfg)
	return s.write(doc)
}

func (s *FileStore) DownloadRules(ctx context.Context) (DownloadRules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return DownloadRules{}, err
	}
	return doc.Rules, nil
}

func (s *FileStore) SaveDownloadRules(ctx context.Context, r DownloadRules) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.Rules = r
	return s.write(doc)
}

package settings

import (
	"context"
	"sync"
)

// MemoryStore keeps settings in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	cfgs  []DownloaderConfig
	rules DownloadRules
}

func NewMemoryStore(cfgs ...DownloaderConfig) *MemoryStore {
	return &MemoryStore{cfgs: append([]DownloaderConfig(nil), cfgs...)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) DownloaderConfigs(ctx context.Context) ([]DownloaderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DownloaderConfig(nil), s.cfgs...), nil
}

func (s *MemoryStore) SaveDownloaderConfig(ctx context.Context, cfg DownloaderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfgs = upsert(s.cfgs, cfg)
	return nil
}

func (s *MemoryStore) DownloadRules(ctx context.Context) (DownloadRules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRules(s.rules), nil
}

func (s *MemoryStore) SaveDownloadRules(ctx context.Context, r DownloadRules) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = copyRules(r)
	return nil
}

func copyRules(r DownloadRules) DownloadRules {
	if r.DownloadMagnetImmediately != nil {
		v := *r.DownloadMagnetImmediately
		r.DownloadMagnetImmediately = &v
	}
	return r
}

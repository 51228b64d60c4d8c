package s3mirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is what the mirror needs from an object store.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth     int
	DroppedTotal   uint64
	UploadedTotal  uint64
	FailedTotal    uint64
	LastUploadTick uint64
}

type job struct {
	tick uint64
	path string
}

// Mirror uploads snapshot files in the background. Keys are the file path
// relative to the data dir, under an optional prefix.
type Mirror struct {
	up      Uploader
	dataDir string
	prefix  string
	logger  *log.Logger

	attempts int
	backoff  func(attempt int) time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup

	dropped  atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
	lastTick atomic.Uint64
}

func NewMirror(up Uploader, dataDir, prefix string, workers, queue int, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 64
	}
	m := &Mirror{
		up:       up,
		dataDir:  dataDir,
		prefix:   strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:   logger,
		attempts: 4,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 200 * time.Millisecond
		},
		jobs: make(chan job, queue),
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for j := range m.jobs {
				m.upload(j)
			}
		}()
	}
	return m
}

// Enqueue schedules a written snapshot for upload. It never blocks; a full
// queue drops the job.
func (m *Mirror) Enqueue(tick uint64, localPath string) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.jobs <- job{tick: tick, path: localPath}:
	default:
		n := m.dropped.Add(1)
		m.printf("snapshot mirror drop tick=%d dropped_total=%d", tick, n)
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(m.jobs),
		DroppedTotal:   m.dropped.Load(),
		UploadedTotal:  m.uploaded.Load(),
		FailedTotal:    m.failed.Load(),
		LastUploadTick: m.lastTick.Load(),
	}
}

func (m *Mirror) upload(j job) {
	key, err := m.objectKey(j.path)
	if err != nil {
		m.failed.Add(1)
		m.printf("snapshot mirror skip tick=%d: %v", j.tick, err)
		return
	}
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = m.up.PutFile(ctx, key, j.path)
		cancel()
		if lastErr == nil {
			break
		}
		if attempt < m.attempts {
			time.Sleep(m.backoff(attempt))
		}
	}
	if lastErr != nil {
		m.failed.Add(1)
		m.printf("snapshot mirror upload failed key=%s: %v", key, lastErr)
		return
	}
	m.uploaded.Add(1)
	m.lastTick.Store(j.tick)
	m.printf("snapshot mirror uploaded key=%s tick=%d", key, j.tick)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside data dir %s", abs, base)
	}
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

package cleanup

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Scheduler removes stale intermediate files (chunks, extracted audio)
// from the scratch directories.
type Scheduler struct {
	dirs     []string
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new cleanup scheduler
func NewScheduler(interval, maxAge time.Duration, dirs ...string) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		dirs:     dirs,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs one sweep immediately, then one every interval until Stop.
func (s *Scheduler) Start() {
	log.Println("Running initial temp file cleanup...")
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopChan:
				return
			}
		}
	}()

	log.Printf("Cleanup scheduler started (interval: %s, max age: %s)", s.interval, s.maxAge)
}

// Stop stops the cleanup scheduler. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		log.Println("Cleanup scheduler stopped")
	})
}

// Sweep deletes files older than maxAge, then any directories left empty.
// The configured roots themselves are kept. It returns the number of files removed.
func (s *Scheduler) Sweep() int {
	var total int
	for _, dir := range s.dirs {
		total += s.sweepDir(dir)
	}
	return total
}

func (s *Scheduler) sweepDir(root string) int {
	now := s.now()

	var (
		deletedCount int
		deletedSize  int64
		dirs         []string
	)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip what we can't access
		}
		if info.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}

		age := now.Sub(info.ModTime())
		if age <= s.maxAge {
			return nil
		}
		size := info.Size()
		if err := os.Remove(path); err != nil {
			log.Printf("WARNING: Failed to delete old file %s: %v", path, err)
			return nil
		}
		deletedCount++
		deletedSize += size
		log.Printf("Deleted old temp file: %s (age: %s, size: %dKB)",
			filepath.Base(path), age.Round(time.Minute), size/1024)
		return nil
	})
	if err != nil {
		log.Printf("WARNING: Error during cleanup of %s: %v", root, err)
	}

	// deepest first so parents empty out after their children
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dirs[i])
		}
	}

	if deletedCount > 0 {
		log.Printf("Cleanup complete: %d files deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
	return deletedCount
}

// EnsureDirs creates each directory if it doesn't exist
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		log.Printf("Directory ready: %s", dir)
	}
	return nil
}

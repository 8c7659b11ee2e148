package sweeper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const sandboxPrefix = "Temp_"

// Sweeper removes stale session sandboxes on a cron schedule.
type Sweeper struct {
	Root   string
	TTL    time.Duration
	Active func(sessionID string) bool
	Now    func() time.Time
	// OnSwept receives the number of sandboxes removed per sweep.
	OnSwept func(n int)

	mu    sync.Mutex
	cron  *cron.Cron
	entry cron.EntryID
}

// New schedules Sweep on schedule (standard cron syntax or descriptors such as @hourly).
func New(root string, ttl time.Duration, schedule string, active func(string) bool) (*Sweeper, error) {
	if ttl <= 0 {
		return nil, errors.New("sweeper ttl must be positive")
	}
	s := &Sweeper{Root: root, TTL: ttl, Active: active, cron: cron.New()}
	id, err := s.cron.AddFunc(schedule, s.run)
	if err != nil {
		return nil, fmt.Errorf("add cron: %w", err)
	}
	s.entry = id
	return s, nil
}

// Start begins cron execution.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) run() {
	n, err := s.Sweep()
	if err != nil {
		log.Warn().Err(err).Str("root", s.Root).Msg("sandbox sweep incomplete")
	}
	if n > 0 {
		log.Info().Int("removed", n).Msg("stale sandboxes removed")
	}
	if s.OnSwept != nil {
		s.OnSwept(n)
	}
}

// Sweep removes Temp_* directories older than TTL whose session is not active.
// A missing root is not an error.
func (s *Sweeper) Sweep() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.Root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	cutoff := now.Add(-s.TTL)

	var removed int
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), sandboxPrefix) {
			continue
		}
		session := strings.TrimPrefix(e.Name(), sandboxPrefix)
		if s.Active != nil && s.Active(session) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.Root, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Debug().Str("session_id", session).Msg("sandbox removed")
		removed++
	}
	return removed, errors.Join(errs...)
}

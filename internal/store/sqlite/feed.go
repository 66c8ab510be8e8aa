package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"YieldAccrual/internal/model"
	"YieldAccrual/internal/store"
)

// feedDebounce coalesces the burst of file events one transaction produces.
const feedDebounce = 200 * time.Millisecond

// Subscribe watches the database files and emits a ChangeEvent whenever the
// account row's updated_at moves. Writes from this process are reported too;
// telling echoes apart is the subscriber's job.
func (s *Store) Subscribe(ctx context.Context, accountID string) (<-chan model.ChangeEvent, error) {
	if accountID == "" {
		return nil, store.ErrInvalidInput
	}
	if s.path == "" || s.path == ":memory:" {
		return nil, errors.New("change feed requires a file database")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	var last time.Time
	if rec, err := s.GetAccount(ctx, accountID); err == nil {
		last = rec.UpdatedAt
	}

	ch := make(chan model.ChangeEvent, 16)
	go s.watch(ctx, w, accountID, last, ch)
	return ch, nil
}

func (s *Store) watch(ctx context.Context, w *fsnotify.Watcher, accountID string, last time.Time, ch chan<- model.ChangeEvent) {
	defer close(ch)
	defer w.Close()

	entry := log.WithFields(log.Fields{"account": accountID, "feed": "sqlite"})
	base := filepath.Base(s.path)

	timer := time.NewTimer(feedDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			// main file, -wal and -journal
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				timer.Reset(feedDebounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			entry.WithError(err).Warn("watcher error")

		case <-timer.C:
			rec, err := s.GetAccount(ctx, accountID)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, store.ErrNotFound) {
					entry.WithError(err).Warn("read changed account failed")
				}
				continue
			}
			if !rec.UpdatedAt.After(last) {
				continue
			}
			last = rec.UpdatedAt

			evt := model.ChangeEvent{
				AccountID: accountID,
				Principal: rec.Principal.InexactFloat64(),
				WrittenBy: rec.WrittenBy,
				At:        rec.UpdatedAt,
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}

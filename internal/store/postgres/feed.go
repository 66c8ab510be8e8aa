package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"YieldAccrual/internal/model"
	"YieldAccrual/internal/store"
)

// NotifyChannel is the LISTEN channel the accounts trigger notifies on.
const NotifyChannel = "accrual_account_changed"

// Subscribe holds a dedicated connection on LISTEN and forwards trigger
// notifications for accountID. The channel closes when ctx is done or the
// connection drops.
func (s *Store) Subscribe(ctx context.Context, accountID string) (<-chan model.ChangeEvent, error) {
	if accountID == "" {
		return nil, store.ErrInvalidInput
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	// The connection leaves the pool; a LISTEN session must not be reused.
	pgConn := conn.Hijack()

	if _, err := pgConn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		pgConn.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("listen: %w", err)
	}

	ch := make(chan model.ChangeEvent, 16)
	go func() {
		defer close(ch)
		defer pgConn.Close(context.WithoutCancel(ctx))

		entry := log.WithFields(log.Fields{"account": accountID, "feed": "postgres"})
		for {
			n, err := pgConn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					entry.WithError(err).Error("listen connection lost")
				}
				return
			}

			var evt model.ChangeEvent
			if err := json.Unmarshal([]byte(n.Payload), &evt); err != nil {
				entry.WithError(err).Warn("malformed change notification")
				continue
			}
			if evt.AccountID != accountID {
				continue
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

package clock

import (
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog"
)

const (
	backoffInitial = 5 * time.Second
	backoffMax     = 5 * time.Minute
)

// NTPClock corrects the local clock by the offset reported by an NTP server.
// Query failures keep the last known offset (zero before the first success)
// and back off exponentially.
type NTPClock struct {
	mu           sync.Mutex
	server       string
	syncInterval time.Duration
	offset       time.Duration
	lastSync     time.Time
	lastAttempt  time.Time
	backoff      time.Duration
	lastErr      error
	query        func(server string) (time.Duration, error)
	local        func() time.Time
	logger       zerolog.Logger
}

func NewNTPClock(server string, syncInterval time.Duration, logger zerolog.Logger) *NTPClock {
	if syncInterval <= 0 {
		syncInterval = 10 * time.Minute
	}
	c := &NTPClock{
		server:       server,
		syncInterval: syncInterval,
		query:        queryOffset,
		local:        time.Now,
		logger:       logger.With().Str("service", "ntp-clock").Str("server", server).Logger(),
	}
	c.mu.Lock()
	c.syncLocked()
	c.mu.Unlock()
	return c
}

func queryOffset(server string) (time.Duration, error) {
	resp, err := ntp.Query(server)
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

func (c *NTPClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeSyncLocked()
	return c.local().Add(c.offset).UTC()
}

// Health reports the current offset and the last sync outcome.
func (c *NTPClock) Health() (offset time.Duration, lastSync time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset, c.lastSync, c.lastErr
}

func (c *NTPClock) maybeSyncLocked() {
	wait := c.syncInterval
	if c.backoff > 0 {
		wait = c.backoff
	}
	if c.local().Sub(c.lastAttempt) < wait {
		return
	}
	c.syncLocked()
}

func (c *NTPClock) syncLocked() {
	c.lastAttempt = c.local()
	offset, err := c.query(c.server)
	if err != nil {
		c.lastErr = err
		if c.backoff == 0 {
			c.backoff = backoffInitial
		} else {
			c.backoff = min(c.backoff*2, backoffMax)
		}
		c.logger.Warn().Err(err).Dur("retry_in", c.backoff).Msg("ntp query failed")
		return
	}
	c.offset = offset
	c.lastSync = c.lastAttempt
	c.lastErr = nil
	c.backoff = 0
	c.logger.Debug().Dur("offset", offset).Msg("ntp offset refreshed")
}

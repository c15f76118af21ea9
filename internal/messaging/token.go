package messaging

import (
	"time"

	"github.com/npezzotti/go-roomchat/internal/auth"
)

// scheduleExpiry arms the about-to-expire and expired signals from the exp
// claim of token, replacing any timers armed for a previous token.
func (c *wsClient) scheduleExpiry(token string) error {
	exp, err := auth.ExpiresAt(token)
	if err != nil {
		return err
	}

	c.stopTimers()

	untilExp := max(time.Until(exp), 0)
	untilWarning := max(untilExp-c.expiryWarning, 0)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return nil
	}

	c.aboutTimer = time.AfterFunc(untilWarning, func() {
		c.tokenAboutToExpire.emit(struct{}{})
	})
	c.expiredTimer = time.AfterFunc(untilExp, func() {
		c.tokenExpired.emit(struct{}{})
	})

	return nil
}

func (c *wsClient) stopTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.aboutTimer != nil {
		c.aboutTimer.Stop()
		c.aboutTimer = nil
	}
	if c.expiredTimer != nil {
		c.expiredTimer.Stop()
		c.expiredTimer = nil
	}
}

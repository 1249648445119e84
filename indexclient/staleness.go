package indexclient

// checkStaleness polls every configured server's time-hash once per tick
// batch; a server that hasn't produced a fresh time-hash within
// timeoutTicks ticks is reported as stale (original_source's net_index.rs
// periodic time-hash exchange, surfaced here as a StaleServer event since
// this module has no notion of tearing the connection down itself — that's
// the external transport collaborator's call to make).
func (c *Client) checkStaleness() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.servers {
		if _, err := s.TimeHash(); err != nil {
			c.ticks[s]++
		} else {
			c.ticks[s] = 0
			continue
		}
		if c.ticks[s] >= c.timeoutTicks {
			select {
			case c.events <- StaleServer{Server: s}:
			default:
				// Events is a best-effort notification channel (spec.md
				// places no durability requirement on it); a slow or
				// absent subscriber never blocks the tick loop.
			}
			c.ticks[s] = 0
		}
	}
}

package mqttrt

// nextPacketID returns the next unused packet identifier, skipping zero and
// wrapping at 65535. Callers must hold c.refsMu: uniqueness within
// pendingResponse is what callers are promised, not atomicity of this
// function alone.
func (c *Connection) nextPacketID() uint16 {
	for range uint32(65535) {
		c.lastPacketID++
		if c.lastPacketID == 0 {
			c.lastPacketID = 1
		}
		if _, used := c.pendingResponse[c.lastPacketID]; !used {
			return c.lastPacketID
		}
	}
	// Every one of the 65535 non-zero identifiers is in flight. Returning a
	// colliding id here is preferable to blocking connect/publish forever;
	// the new operation replaces the existing one in pendingResponse when
	// enqueueSend registers it.
	return c.lastPacketID
}

package packets

// ReceiveCallback is invoked by a transport once per decoded inbound packet,
// on the transport's own reader goroutine.
type ReceiveCallback func(pkt Packet)

package control

const (
	MessagePacketLoss = "Detected high amounts of network packet loss. " +
		"Try improving your network connection or lowering stream resolution, frame rate, and/or bitrate. " +
		"Use a 5 GHz wireless connection if available and connect your PC directly to your router via Ethernet if possible."
	MessageSlowSink = "Your device is processing the A/V data too slowly. " +
		"Try lowering stream resolution and/or frame rate."
)

// Listener receives upstream notifications from the control stream.
type Listener interface {
	DisplayTransientMessage(message string)
	ConnectionTerminated(err error)
}

// EventSink is what the decode pipeline calls into.
type EventSink interface {
	ConnectionReceivedFrame(frameIndex int32)
	ConnectionLostPackets(lastReceivedPacket, nextReceivedPacket int32)
	ConnectionDetectedFrameLoss(firstLostFrame, nextSuccessfulFrame int32)
	ConnectionSinkTooSlow(firstLostFrame, nextSuccessfulFrame int32)
	ConnectionTerminated()
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are ignored.
type ListenerFuncs struct {
	OnMessage    func(message string)
	OnTerminated func(err error)
}

func (l ListenerFuncs) DisplayTransientMessage(message string) {
	if l.OnMessage != nil {
		l.OnMessage(message)
	}
}

func (l ListenerFuncs) ConnectionTerminated(err error) {
	if l.OnTerminated != nil {
		l.OnTerminated(err)
	}
}

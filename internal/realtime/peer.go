package realtime

import (
	"context"
	"time"
)

// EventChannelLabel is the data channel the realtime service expects.
const EventChannelLabel = "oai-events"

// Peer is one negotiated connection carrying audio and the event channel.
type Peer interface {
	// Offer returns the local SDP once ICE gathering has completed.
	Offer(ctx context.Context) (string, error)
	Answer(sdp string) error
	Send(data []byte) error
	Close() error
}

// Outbound carries encoded microphone frames to the remote side.
type Outbound interface {
	WriteSample(payload []byte, duration time.Duration) error
}

// RemoteTrack yields encoded packets of the remote assistant audio.
type RemoteTrack interface {
	ID() string
	ReadPacket() ([]byte, error)
}

// PeerEvents are the callbacks a Dialer must wire.
type PeerEvents struct {
	OnOpen        func()
	OnMessage     func([]byte)
	OnClose       func()
	OnRemoteAudio func(RemoteTrack)
}

// Dialer creates a peer with a recvonly inbound audio transceiver, the
// event channel, and an outbound mic track.
type Dialer func(events PeerEvents) (Peer, Outbound, error)

// Signaler obtains credentials and exchanges session descriptions.
type Signaler interface {
	Token(ctx context.Context, path string) (string, error)
	ExchangeSDP(ctx context.Context, path, offer, secret, model string) (string, error)
}

// Microphone is a blocking source of 20ms PCM frames.
type Microphone interface {
	ReadFrame(ctx context.Context, pcm []int16) (int, error)
	Close()
}

// Sink plays decoded remote audio.
type Sink interface {
	Write(pcm []int16)
	Flush()
}

type encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

type decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

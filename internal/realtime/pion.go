package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

type pionPeer struct {
	pc      *webrtc.PeerConnection
	channel *webrtc.DataChannel
	mic     *webrtc.TrackLocalStaticSample
}

type pionTrack struct {
	track *webrtc.TrackRemote
}

func (t pionTrack) ID() string { return t.track.ID() }

func (t pionTrack) ReadPacket() ([]byte, error) {
	pkt, _, err := t.track.ReadRTP()
	if err != nil {
		return nil, err
	}
	return pkt.Payload, nil
}

// DialPion is the production Dialer.
func DialPion(events PeerEvents) (Peer, Outbound, error) {
	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(engine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, fmt.Errorf("create peer connection: %w", err)
	}
	peer := &pionPeer{pc: pc}

	channel, err := pc.CreateDataChannel(EventChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("create event channel: %w", err)
	}
	peer.channel = channel
	if events.OnOpen != nil {
		channel.OnOpen(events.OnOpen)
	}
	if events.OnMessage != nil {
		channel.OnMessage(func(msg webrtc.DataChannelMessage) {
			events.OnMessage(msg.Data)
		})
	}
	if events.OnClose != nil {
		channel.OnClose(events.OnClose)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("add inbound transceiver: %w", err)
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio || events.OnRemoteAudio == nil {
			return
		}
		events.OnRemoteAudio(pionTrack{track: track})
	})

	mic, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  1,
	}, "mic", "posvoice")
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("create mic track: %w", err)
	}
	sender, err := pc.AddTrack(mic)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("attach mic track: %w", err)
	}
	peer.mic = mic

	// RTCP must be drained for interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return peer, peer, nil
}

func (p *pionPeer) Offer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *pionPeer) Answer(sdp string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (p *pionPeer) Send(data []byte) error {
	return p.channel.Send(data)
}

func (p *pionPeer) WriteSample(payload []byte, duration time.Duration) error {
	return p.mic.WriteSample(media.Sample{Data: payload, Duration: duration})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

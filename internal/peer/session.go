// Package peer owns one peer-to-peer media connection with the remote
// voice agent: local microphone capture, symmetric offer/answer/ICE
// negotiation over the signaling channel, remote track acquisition and
// disconnect detection.
package peer

import (
	"errors"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/mediadevices"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/hireloop/agentcall/internal/signal"
)

var log = logging.Logger("peer")

// ErrMediaUnavailable reports that no usable microphone could be
// opened. The join attempt aborts without a signaling session.
var ErrMediaUnavailable = errors.New("local audio unavailable")

// EventKind discriminates peer events delivered to the session loop.
type EventKind int

const (
	// EventICEConnected fires when ICE reaches the connected state.
	EventICEConnected EventKind = iota

	// EventDisconnected fires at most once, on ICE disconnect or
	// connection failure. It triggers the same teardown as a manual end.
	EventDisconnected

	// EventRemoteTrack carries the first remote audio track.
	EventRemoteTrack
)

// Event is one peer-connection event.
type Event struct {
	Kind  EventKind
	Track *webrtc.TrackRemote
}

// SendFunc delivers an outbound signaling message.
type SendFunc func(signal.Message) error

// Session is one peer connection. The local microphone is captured at
// construction; negotiation is symmetric — this side usually offers,
// but an unsolicited remote offer is answered just the same.
type Session struct {
	pc     *webrtc.PeerConnection
	send   SendFunc
	events chan Event
	done   chan struct{}

	mu           sync.Mutex
	local        mediadevices.Track
	sender       *webrtc.RTPSender
	audioEnabled bool
	remoteSet    bool
	pending      []webrtc.ICECandidateInit
	disconnected bool
	gotTrack     bool
	closed       bool
}

// New captures the microphone and builds the peer connection. Media
// failure aborts before anything network-facing exists.
func New(stunServers []string, send SendFunc) (*Session, error) {
	api, codecSelector, err := newAPI()
	if err != nil {
		return nil, err
	}

	local, err := captureMicrophone(codecSelector)
	if err != nil {
		return nil, err
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	})
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	sender, err := pc.AddTrack(local)
	if err != nil {
		local.Close()
		pc.Close()
		return nil, fmt.Errorf("add local audio: %w", err)
	}

	s := &Session{
		pc:           pc,
		send:         send,
		events:       make(chan Event, 16),
		done:         make(chan struct{}),
		local:        local,
		sender:       sender,
		audioEnabled: true,
	}

	// Trickle ICE: candidates go out as soon as they are generated.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering complete
		}
		init := c.ToJSON()
		if err := s.send(signal.Message{Type: signal.TypeCandidate, Candidate: &init}); err != nil {
			log.Warnf("send candidate: %v", err)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Debugf("ice state: %s", state)
		switch state {
		case webrtc.ICEConnectionStateConnected:
			s.emit(Event{Kind: EventICEConnected})
		case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
			s.emitDisconnected()
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			s.emitDisconnected()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		s.mu.Lock()
		first := !s.gotTrack
		s.gotTrack = true
		s.mu.Unlock()
		if !first {
			return
		}
		go drainRTCP(receiver)
		s.emit(Event{Kind: EventRemoteTrack, Track: track})
	})

	return s, nil
}

// Events delivers peer events to the owning session loop.
func (s *Session) Events() <-chan Event {
	return s.events
}

// StartOffer creates the offer, sets it locally and sends it.
func (s *Session) StartOffer() error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return s.send(signal.Message{Type: signal.TypeOffer, SDP: offer.SDP})
}

// HandleOffer answers an unsolicited remote offer — the protocol never
// assumes which side initiates.
func (s *Session) HandleOffer(sdp string) error {
	if err := s.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return s.send(signal.Message{Type: signal.TypeAnswer, SDP: answer.SDP})
}

// HandleAnswer applies the remote answer to our offer.
func (s *Session) HandleAnswer(sdp string) error {
	return s.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// AddCandidate applies a remote ICE candidate. Candidates arriving
// before the remote description are held and flushed once it is set.
func (s *Session) AddCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// SetAudioEnabled toggles the outbound microphone without renegotiating:
// the sender's track is swapped out rather than removed.
func (s *Session) SetAudioEnabled(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || on == s.audioEnabled {
		return nil
	}
	s.audioEnabled = on

	var err error
	if on {
		err = s.sender.ReplaceTrack(s.local)
	} else {
		err = s.sender.ReplaceTrack(nil)
	}
	if err != nil {
		return fmt.Errorf("toggle audio: %w", err)
	}
	return nil
}

// Close tears the connection down. Idempotent; late pion callbacks
// after Close become no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	if s.local != nil {
		s.local.Close()
	}
	return s.pc.Close()
}

func (s *Session) setRemote(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			log.Warnf("apply held candidate: %v", err)
		}
	}
	return nil
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	case <-s.done:
	}
}

func (s *Session) emitDisconnected() {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return
	}
	s.disconnected = true
	s.mu.Unlock()
	s.emit(Event{Kind: EventDisconnected})
}

// drainRTCP consumes receiver reports so the interceptor chain keeps
// functioning; loss figures surface in the debug log.
func drainRTCP(receiver *webrtc.RTPReceiver) {
	for {
		pkts, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range pkts {
			if rr, ok := p.(*rtcp.ReceiverReport); ok && len(rr.Reports) > 0 {
				log.Debugf("rtcp receiver report: fraction lost %d", rr.Reports[0].FractionLost)
			}
		}
	}
}

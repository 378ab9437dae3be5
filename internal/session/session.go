// Package session composes the call orchestrator: schedule gating,
// signaling, the peer connection, transcript reconciliation and the
// audio bridge, behind a single lifecycle state machine.
package session

import (
	"errors"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"

	"github.com/hireloop/agentcall/internal/peer"
	"github.com/hireloop/agentcall/internal/room"
	"github.com/hireloop/agentcall/internal/signal"
	"github.com/hireloop/agentcall/internal/transcript"
)

var log = logging.Logger("call")

// ErrNotIdle is returned when Start is called on a session that already
// ran. A session object is single-shot; construct a new one to retry.
var ErrNotIdle = errors.New("session already started")

// State is the call lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
)

// End reasons reported with the session report.
const (
	reasonParticipantLeft = "ended by participant"
	reasonRemoteEnded     = "remote ended the call"
	reasonConnectionLost  = "connection lost"
	reasonSignalingClosed = "signaling channel closed"
)

// Transport is the signaling surface the session needs. Satisfied by
// *signal.Channel.
type Transport interface {
	Send(signal.Message) error
	Subscribe() (<-chan signal.Message, func())
	Closed() <-chan struct{}
	Close() error
}

// Peer is the media session surface. Satisfied by *peer.Session.
type Peer interface {
	StartOffer() error
	HandleOffer(sdp string) error
	HandleAnswer(sdp string) error
	AddCandidate(c webrtc.ICECandidateInit) error
	SetAudioEnabled(on bool) error
	Events() <-chan peer.Event
	Close() error
}

// Publisher bridges the agent audio into the room. Satisfied by
// *bridge.Bridge.
type Publisher interface {
	Publish(remote *webrtc.TrackRemote, name string) (string, error)
	Unpublish() error
}

// Deps are the collaborators one session is wired with. DialSignaling
// and NewPeer are factories so nothing network- or device-facing exists
// until Start.
type Deps struct {
	DialSignaling func() (Transport, error)
	NewPeer       func(send peer.SendFunc) (Peer, error)
	Bridge        Publisher
	Room          room.Room
	Store         transcript.Store
	Reporter      transcript.Reporter

	// Prompt is the fully composed system prompt, immutable once the
	// init message has been sent.
	Prompt string

	// AgentID identifies the remote agent in the init message.
	AgentID string

	// TrackName is the custom track name for the bridged agent audio.
	TrackName string
}

// Session is one call between a participant and the remote voice agent.
// All cross-component events funnel through a single queue processed in
// arrival order by the run loop; external methods post commands into
// the same queue, so session state is only ever touched from one
// goroutine.
type Session struct {
	ID  string
	rec *transcript.Reconciler

	deps      Deps
	transport Transport
	peer      Peer

	commands chan func()
	done     chan struct{}
	doneOnce sync.Once

	mu            sync.Mutex
	state         State
	muted         bool
	initSent      bool
	customTrackID string
	recordingID   string
	endReason     string
}

// Status is a point-in-time snapshot for the control API.
type Status struct {
	ID            string `json:"id"`
	State         State  `json:"state"`
	Muted         bool   `json:"muted"`
	InitSent      bool   `json:"init_sent"`
	CustomTrackID string `json:"custom_track_id,omitempty"`
	RecordingID   string `json:"recording_id,omitempty"`
	TranscriptLen int    `json:"transcript_len"`
	Partial       string `json:"partial,omitempty"`
	EndReason     string `json:"end_reason,omitempty"`
}

func New(id string, deps Deps) *Session {
	return &Session{
		ID:       id,
		rec:      transcript.NewReconciler(id, deps.Store),
		deps:     deps,
		commands: make(chan func(), 16),
		done:     make(chan struct{}),
		state:    StateIdle,
	}
}

// Start attempts the join: capture the microphone, open the signaling
// channel, send the offer. Media and dial failures revert the session
// to Idle so the schedule gate can retry or surface the error.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	s.state = StateConnecting
	s.mu.Unlock()

	// Microphone first: a media failure must not create a signaling
	// session.
	p, err := s.deps.NewPeer(s.sendSignal)
	if err != nil {
		s.setState(StateIdle)
		return err
	}

	t, err := s.deps.DialSignaling()
	if err != nil {
		p.Close()
		s.setState(StateIdle)
		return fmt.Errorf("failed to join: %w", err)
	}

	s.peer = p
	s.transport = t
	go s.run()

	if err := p.StartOffer(); err != nil {
		log.Warnf("call [%s]: offer failed: %v", s.ID, err)
		s.enqueue(func() { s.end(reasonConnectionLost, false) })
		return fmt.Errorf("failed to join: %w", err)
	}

	log.Infof("call [%s]: offer sent, connecting", s.ID)
	return nil
}

// Hangup ends the call on behalf of the participant. Idempotent.
func (s *Session) Hangup() {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateEnded {
		s.state = StateEnded
		s.mu.Unlock()
		s.doneOnce.Do(func() { close(s.done) })
		return
	}
	s.mu.Unlock()

	s.enqueue(func() {
		// Tell the agent before tearing down; best effort.
		if err := s.transport.Send(signal.Message{Type: signal.TypeEndCall}); err != nil {
			log.Debugf("call [%s]: end-call send: %v", s.ID, err)
		}
		s.end(reasonParticipantLeft, true)
	})
}

// ToggleMute flips the local microphone. No renegotiation; only the
// outbound track is paused. Returns the new muted state.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateEnded {
		s.muted = !s.muted
		muted := s.muted
		s.mu.Unlock()
		return muted
	}
	s.mu.Unlock()

	reply := make(chan bool, 1)
	s.enqueue(func() {
		s.mu.Lock()
		s.muted = !s.muted
		muted := s.muted
		s.mu.Unlock()
		if err := s.peer.SetAudioEnabled(!muted); err != nil {
			log.Warnf("call [%s]: mute toggle: %v", s.ID, err)
		}
		reply <- muted
	})

	select {
	case m := <-reply:
		log.Infof("call [%s]: muted=%v", s.ID, m)
		return m
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.muted
	}
}

// PushUserTurn appends a locally known user utterance to the transcript
// (optimistic append; the next agent snapshot confirms it).
func (s *Session) PushUserTurn(content string) {
	s.enqueue(func() { s.rec.AppendLocal(content) })
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the persisted turns so far.
func (s *Session) Transcript() []transcript.Turn {
	return s.rec.Turns()
}

// Partial returns the live caption ahead of the next agent snapshot.
func (s *Session) Partial() string {
	return s.rec.Partial()
}

// Status snapshots the session for the control API.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		ID:            s.ID,
		State:         s.state,
		Muted:         s.muted,
		InitSent:      s.initSent,
		CustomTrackID: s.customTrackID,
		RecordingID:   s.recordingID,
		EndReason:     s.endReason,
	}
	s.mu.Unlock()
	st.TranscriptLen = s.rec.Len()
	st.Partial = s.rec.Partial()
	return st
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// run is the single dispatch loop: signaling messages, peer events,
// transport close and posted commands, strictly in arrival order.
func (s *Session) run() {
	msgs, cancel := s.transport.Subscribe()
	defer cancel()

	for {
		select {
		case <-s.done:
			return
		case fn := <-s.commands:
			fn()
		case m, ok := <-msgs:
			if !ok {
				s.end(reasonSignalingClosed, false)
				return
			}
			s.handleMessage(m)
		case <-s.transport.Closed():
			s.end(reasonSignalingClosed, false)
			return
		case ev := <-s.peer.Events():
			s.handlePeerEvent(ev)
		}
	}
}

func (s *Session) handleMessage(m signal.Message) {
	switch m.Type {
	case signal.TypeOffer:
		// The remote may initiate; answer symmetrically.
		if err := s.peer.HandleOffer(m.SDP); err != nil {
			log.Warnf("call [%s]: dropping offer: %v", s.ID, err)
		}

	case signal.TypeAnswer:
		if err := s.peer.HandleAnswer(m.SDP); err != nil {
			log.Warnf("call [%s]: dropping answer: %v", s.ID, err)
		}

	case signal.TypeCandidate:
		if m.Candidate == nil {
			log.Warnf("call [%s]: candidate frame without candidate", s.ID)
			return
		}
		if err := s.peer.AddCandidate(*m.Candidate); err != nil {
			log.Warnf("call [%s]: dropping candidate: %v", s.ID, err)
		}

	case signal.TypeConversationUpdate:
		history := make([]transcript.Turn, 0, len(m.MessagesHistory))
		for _, e := range m.MessagesHistory {
			history = append(history, transcript.Turn{Role: e.Role, Content: e.Content})
		}
		s.rec.ApplySnapshot(history)

	case signal.TypeFinalTranscript:
		if len(m.Alternatives) > 0 {
			s.rec.AppendPartial(m.Channel, m.Alternatives[0].Transcript)
		}

	case signal.TypeEndCall:
		s.end(reasonRemoteEnded, false)

	default:
		// Decode already rejects unknown types; init is outbound-only.
		log.Debugf("call [%s]: ignoring %s frame", s.ID, m.Type)
	}
}

func (s *Session) handlePeerEvent(ev peer.Event) {
	switch ev.Kind {
	case peer.EventICEConnected:
		s.onConnected()

	case peer.EventDisconnected:
		s.end(reasonConnectionLost, false)

	case peer.EventRemoteTrack:
		s.onRemoteTrack(ev.Track)
	}
}

// onConnected marks the session live and sends the one-time init
// message with the composed prompt. Repeated ICE-connected events are
// no-ops.
func (s *Session) onConnected() {
	s.mu.Lock()
	if s.state == StateConnecting {
		s.state = StateConnected
	}
	alreadySent := s.initSent
	s.initSent = true
	s.mu.Unlock()

	if alreadySent {
		return
	}

	log.Infof("call [%s]: connected, sending init", s.ID)
	err := s.transport.Send(signal.Message{
		Type:    signal.TypeInit,
		AgentID: s.deps.AgentID,
		InitialHistory: []signal.HistoryEntry{
			{Role: "system", Content: s.deps.Prompt},
		},
	})
	if err != nil {
		log.Warnf("call [%s]: init send: %v", s.ID, err)
	}

	if s.deps.Room != nil {
		recID, err := s.deps.Room.StartRecording()
		if err != nil {
			log.Warnf("call [%s]: start recording: %v", s.ID, err)
		} else if recID != "" {
			s.mu.Lock()
			s.recordingID = recID
			s.mu.Unlock()
		}
	}
}

// onRemoteTrack bridges the first agent audio track into the room.
// Guarded by the recorded track ID: at most one publish per session.
func (s *Session) onRemoteTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	already := s.customTrackID != ""
	s.mu.Unlock()
	if already || s.deps.Bridge == nil {
		return
	}

	id, err := s.deps.Bridge.Publish(track, s.deps.TrackName)
	if err != nil {
		// Non-fatal: the call continues without the bridged track.
		log.Warnf("call [%s]: bridge publish: %v", s.ID, err)
		return
	}
	s.mu.Lock()
	s.customTrackID = id
	s.mu.Unlock()
}

// end performs the teardown exactly once, in the required order:
// unpublish the custom track, stop the room recording, close the peer,
// close the signaling channel, then report.
func (s *Session) end(reason string, byParticipant bool) {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.state = StateEnded
	s.endReason = reason
	customTrackID := s.customTrackID
	recordingID := s.recordingID
	s.mu.Unlock()

	log.Infof("call [%s]: ending (%s)", s.ID, reason)

	if customTrackID != "" && s.deps.Bridge != nil {
		if err := s.deps.Bridge.Unpublish(); err != nil {
			log.Warnf("call [%s]: unpublish: %v", s.ID, err)
		}
	}

	if recordingID != "" && s.deps.Room != nil {
		if err := s.deps.Room.StopRecording(recordingID); err != nil {
			log.Warnf("call [%s]: stop recording: %v", s.ID, err)
		}
	}

	if s.peer != nil {
		s.peer.Close()
	}
	if s.transport != nil {
		s.transport.Close()
	}

	s.rec.Flush()
	if s.deps.Reporter != nil {
		if err := s.deps.Reporter.ReportSessionEnded(s.ID, recordingID, byParticipant); err != nil {
			log.Warnf("call [%s]: session report: %v", s.ID, err)
		}
	}

	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// sendSignal is handed to the peer for outbound negotiation messages.
func (s *Session) sendSignal(m signal.Message) error {
	t := s.transport
	if t == nil {
		return signal.ErrChannelClosed
	}
	return t.Send(m)
}

func (s *Session) enqueue(fn func()) {
	select {
	case s.commands <- fn:
	case <-s.done:
	}
}

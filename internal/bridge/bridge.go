// Package bridge republishes the agent's inbound audio into the
// conferencing room as a named custom track, so session recordings
// capture both sides of the conversation.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/hireloop/agentcall/internal/room"
)

var log = logging.Logger("bridge")

// Bridge mirrors at most one remote audio track into a room. Publish
// failures are non-fatal to the call; the session simply continues
// without the bridged track.
type Bridge struct {
	room room.Room

	mu      sync.Mutex
	trackID string
	stop    chan struct{}
}

func New(r room.Room) *Bridge {
	return &Bridge{room: r, stop: make(chan struct{})}
}

// Publish creates a local RTP track mirroring the remote codec,
// registers it with the room under name and starts the packet pump.
// First track wins: once a track ID is recorded, further calls return
// it unchanged.
func (b *Bridge) Publish(remote *webrtc.TrackRemote, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trackID != "" {
		return b.trackID, nil
	}

	local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, name, "agentcall")
	if err != nil {
		return "", fmt.Errorf("create custom track: %w", err)
	}

	id, err := b.room.PublishCustomTrack(local, room.ModeAudio, name)
	if err != nil {
		return "", fmt.Errorf("publish custom track: %w", err)
	}
	b.trackID = id

	go b.pump(remote, local)
	log.Infof("bridge: publishing agent audio as %q (track %s)", name, id)
	return id, nil
}

// Unpublish removes the custom track from the room. Must run strictly
// before the room is left. Idempotent.
func (b *Bridge) Unpublish() error {
	b.mu.Lock()
	id := b.trackID
	b.trackID = ""
	stop := b.stop
	b.mu.Unlock()

	if id == "" {
		return nil
	}

	select {
	case <-stop:
	default:
		close(stop)
	}

	if err := b.room.UnpublishCustomTrack(id); err != nil {
		return fmt.Errorf("unpublish custom track %s: %w", id, err)
	}
	return nil
}

// pump copies RTP from the remote track to the room track until either
// side goes away.
func (b *Bridge) pump(remote *webrtc.TrackRemote, local *webrtc.TrackLocalStaticRTP) {
	for {
		select {
		case <-b.stop:
			return
		default:
		}

		pkt, _, err := remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debugf("bridge: remote track read ended: %v", err)
			}
			return
		}
		if err := b.forward(local, pkt); err != nil {
			return
		}
	}
}

func (b *Bridge) forward(local *webrtc.TrackLocalStaticRTP, pkt *rtp.Packet) error {
	if err := local.WriteRTP(pkt); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return err
		}
		log.Debugf("bridge: write rtp: %v", err)
	}
	return nil
}

// Package room defines the boundary to the external conferencing
// provider. The orchestrator only calls this surface; it never
// implements the provider itself.
package room

import (
	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"
)

var log = logging.Logger("room")

// Track modes understood by the provider when publishing a custom track.
const (
	ModeAudio = "audio"
)

// Room is the conferencing room capability. Join/leave and recording are
// driven by the session lifecycle; custom tracks carry the bridged agent
// audio so recordings capture both parties.
type Room interface {
	Join(url, token string) error
	Leave() error

	// PublishCustomTrack registers a track under name and returns the
	// provider's track ID, needed to unpublish before leaving.
	PublishCustomTrack(track webrtc.TrackLocal, mode, name string) (string, error)
	UnpublishCustomTrack(trackID string) error

	StartRecording() (recordingID string, err error)
	StopRecording(recordingID string) error
}

// Nop is the room used when no provider is configured. Every call
// succeeds and is logged, so the orchestrator runs standalone.
type Nop struct{}

func NewNop() *Nop { return &Nop{} }

func (*Nop) Join(url, _ string) error {
	log.Debugf("room: nop join %s", url)
	return nil
}

func (*Nop) Leave() error {
	log.Debugf("room: nop leave")
	return nil
}

func (*Nop) PublishCustomTrack(_ webrtc.TrackLocal, mode, name string) (string, error) {
	log.Debugf("room: nop publish custom track %q mode=%s", name, mode)
	return "nop-" + name, nil
}

func (*Nop) UnpublishCustomTrack(trackID string) error {
	log.Debugf("room: nop unpublish %s", trackID)
	return nil
}

func (*Nop) StartRecording() (string, error) {
	log.Debugf("room: nop start recording")
	return "", nil
}

func (*Nop) StopRecording(recordingID string) error {
	log.Debugf("room: nop stop recording %s", recordingID)
	return nil
}

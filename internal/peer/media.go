package peer

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
)

// newAPI builds the WebRTC API: an Opus-capable media engine populated
// from the mediadevices codec selector, the default interceptor set,
// and generous ICE timeouts so a brief relay/NAT hiccup does not
// immediately terminate the call.
func newAPI() (*webrtc.API, *mediadevices.CodecSelector, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, fmt.Errorf("opus params: %w", err)
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return api, codecSelector, nil
}

// captureMicrophone opens the default microphone as a single Opus
// track. Any failure here (no device, permission denied, busy) is the
// media error that aborts the join attempt.
func captureMicrophone(sel *mediadevices.CodecSelector) (mediadevices.Track, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: sel,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	for _, track := range stream.GetTracks() {
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Warnf("local audio track ended: %v", err)
				}
			})
			return track, nil
		}
		track.Close()
	}
	return nil, ErrMediaUnavailable
}

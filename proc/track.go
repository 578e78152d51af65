package proc

import (
	"errors"
	"sync/atomic"
	"time"
)

// Track is a resolved, playable unit of audio.
type Track struct {
	ID         string
	Title      string
	Uploader   string
	Duration   time.Duration // zero when unknown
	Thumbnail  string
	WebpageURL string

	// Source is a local file under the cache root when Cached is set,
	// otherwise a remote stream URL good for one playback.
	Source string
	Cached bool
}

// IsStream reports whether the track is bound to a one-shot remote stream.
func (t *Track) IsStream() bool {
	return !t.Cached
}

// Link returns a URL suitable for markdown links in notices.
func (t *Track) Link() string {
	if t.WebpageURL != "" {
		return t.WebpageURL
	}
	if t.ID != "" {
		return "https://www.youtube.com/watch?v=" + t.ID
	}
	return t.Source
}

func (t *Track) DisplayTitle() string {
	if t.Title == "" || t.Title == "NA" {
		if t.ID != "" {
			return "YouTube Track (" + t.ID + ")"
		}
		return "Music Track"
	}
	return t.Title
}

func (t *Track) DisplayUploader() string {
	if t.Uploader == "" || t.Uploader == "NA" {
		return "Unknown"
	}
	return t.Uploader
}

var errStreamConsumed = errors.New("stream reference already consumed")

// PlayableHandle binds a track to the transport for one playback and
// carries the mutable volume the transcoder reads on every frame.
type PlayableHandle struct {
	Track  *Track
	volume atomic.Int32
	opened atomic.Bool
}

func NewPlayableHandle(t *Track, volume int) *PlayableHandle {
	h := &PlayableHandle{Track: t}
	h.volume.Store(int32(volume))
	return h
}

// Open returns the input the transport should read. A stream reference
// can be opened once; a cached file can be opened any number of times.
func (h *PlayableHandle) Open() (string, error) {
	if h.Track.IsStream() && !h.opened.CompareAndSwap(false, true) {
		return "", errStreamConsumed
	}
	return h.Track.Source, nil
}

func (h *PlayableHandle) SetVolume(v int) {
	h.volume.Store(int32(v))
}

func (h *PlayableHandle) Volume() int {
	return int(h.volume.Load())
}

// VolumeRef exposes the volume for per-sample scaling, 100 being unity.
func (h *PlayableHandle) VolumeRef() *atomic.Int32 {
	return &h.volume
}

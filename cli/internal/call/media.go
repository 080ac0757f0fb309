package call

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

// Opus pages in the sample files carry 20ms of audio.
const oggPageDuration = 20 * time.Millisecond

// MediaSource acquires the local audio and video for a call. Acquire may
// block while the user grants access.
type MediaSource interface {
	Acquire(ctx context.Context) (*LocalMedia, error)
}

// LocalMedia is the captured local audio and video of one call.
type LocalMedia struct {
	Tracks []webrtc.TrackLocal

	stop     func()
	stopOnce sync.Once
}

// NewLocalMedia wraps tracks; stop is called once by Stop.
func NewLocalMedia(stop func(), tracks ...webrtc.TrackLocal) *LocalMedia {
	return &LocalMedia{Tracks: tracks, stop: stop}
}

// Stop releases the capture. Stopping stopped media is a no-op.
func (m *LocalMedia) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() {
		if m.stop != nil {
			m.stop()
		}
	})
}

// FileSource plays an IVF (VP8) and an Ogg (Opus) file as the local
// camera and microphone. An empty path gives a silent track of that kind.
type FileSource struct {
	VideoPath string
	AudioPath string

	// Secure is false when the relay is reached over plain http on a
	// non-local host; capture is then refused like a browser would.
	Secure bool
}

// Acquire opens the files and starts pacing their frames into tracks.
func (s FileSource) Acquire(ctx context.Context) (*LocalMedia, error) {
	if !s.Secure {
		return nil, &CapabilityError{Kind: CapabilityInsecureContext}
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "telecare")
	if err != nil {
		return nil, &CapabilityError{Kind: CapabilityUnknown, Err: err}
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "telecare")
	if err != nil {
		return nil, &CapabilityError{Kind: CapabilityUnknown, Err: err}
	}

	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	var ivf *ivfreader.IVFReader
	var frameDuration time.Duration
	if s.VideoPath != "" {
		f, err := openDevice(s.VideoPath)
		if err != nil {
			return nil, err
		}
		files = append(files, f)

		reader, header, err := ivfreader.NewWith(f)
		if err != nil {
			closeAll()
			return nil, &CapabilityError{Kind: CapabilityConstraintsUnmet, Err: err}
		}
		if header.FourCC != "VP80" {
			closeAll()
			return nil, &CapabilityError{Kind: CapabilityConstraintsUnmet, Err: errors.New("video must be VP8, got " + header.FourCC)}
		}
		ivf = reader
		frameDuration = time.Duration(float64(header.TimebaseNumerator)/float64(header.TimebaseDenominator)*1000) * time.Millisecond
	}

	var ogg *oggreader.OggReader
	if s.AudioPath != "" {
		f, err := openDevice(s.AudioPath)
		if err != nil {
			closeAll()
			return nil, err
		}
		files = append(files, f)

		reader, _, err := oggreader.NewWith(f)
		if err != nil {
			closeAll()
			return nil, &CapabilityError{Kind: CapabilityConstraintsUnmet, Err: err}
		}
		ogg = reader
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	if ivf != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pace(ctx, frameDuration, func() ([]byte, error) {
				frame, _, err := ivf.ParseNextFrame()
				return frame, err
			}, video)
		}()
	}
	if ogg != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pace(ctx, oggPageDuration, func() ([]byte, error) {
				page, _, err := ogg.ParseNextPage()
				return page, err
			}, audio)
		}()
	}

	stop := func() {
		cancel()
		wg.Wait()
		closeAll()
	}
	return NewLocalMedia(stop, video, audio), nil
}

// pace writes one sample per tick until the source ends or ctx is done.
func pace(ctx context.Context, every time.Duration, next func() ([]byte, error), track *webrtc.TrackLocalStaticSample) {
	if every <= 0 {
		every = 33 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debug().Err(err).Str("track", track.ID()).Msg("media source stopped")
				}
				return
			}
			if err := track.WriteSample(media.Sample{Data: data, Duration: every}); err != nil {
				log.Debug().Err(err).Str("track", track.ID()).Msg("write sample failed")
				return
			}
		}
	}
}

// openDevice opens a media file and classifies failures the way capture
// errors are reported to the user.
func openDevice(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, &CapabilityError{Kind: CapabilityDeviceNotFound, Err: err}
	case errors.Is(err, fs.ErrPermission):
		return nil, &CapabilityError{Kind: CapabilityPermissionDenied, Err: err}
	case errors.Is(err, syscall.EBUSY):
		return nil, &CapabilityError{Kind: CapabilityDeviceBusy, Err: err}
	}
	return nil, &CapabilityError{Kind: CapabilityUnknown, Err: err}
}

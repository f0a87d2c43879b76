// Package malgo wires the conversation pipeline's Source and Sink contracts
// to a real duplex sound device via github.com/gen2brain/malgo.
package malgo

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/malonecentral/malone-agent/pkg/audio"
)

// Device is a duplex microphone+speaker pair sharing one malgo context.
// It implements both audio.Source (capture) and audio.Sink (playback); the
// two halves share the underlying hardware stream the way a real headset
// does, which is why the conversation driver must coordinate access to the
// speaker through the echo guard rather than treating them as independent.
type Device struct {
	format audio.Format

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu         sync.Mutex
	sink       audio.FrameSink
	playback   bytes.Buffer
	playDoneCh chan struct{}
}

// New opens the default duplex capture+playback device at the given format.
// Channels must be 1 (mono); malgo.FormatS16 is used for both directions to
// match the pipeline's 16-bit PCM contract.
func New(format audio.Format) (*Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	d := &Device{format: format, ctx: mctx}

	cfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: d.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return nil, fmt.Errorf("malgo: init device: %w", err)
	}
	d.device = device

	return d, nil
}

func (d *Device) onSamples(out, in []byte, _ uint32) {
	if in != nil {
		d.mu.Lock()
		sink := d.sink
		d.mu.Unlock()
		if sink != nil {
			frame := make([]byte, len(in))
			copy(frame, in)
			sink(frame)
		}
	}

	if out != nil {
		d.mu.Lock()
		n, _ := d.playback.Read(out)
		if n < len(out) {
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
		}
		drained := d.playback.Len() == 0
		doneCh := d.playDoneCh
		if drained {
			d.playDoneCh = nil
		}
		d.mu.Unlock()
		if drained && doneCh != nil {
			close(doneCh)
		}
	}
}

// Format implements audio.Source.
func (d *Device) Format() audio.Format { return d.format }

// Start implements audio.Source. sink is invoked from the malgo audio
// callback thread and must not block.
func (d *Device) Start(sink audio.FrameSink) error {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
	return d.device.Start()
}

// Stop implements audio.Source. After it returns, sink receives no further
// calls.
func (d *Device) Stop() error {
	err := d.device.Stop()
	d.mu.Lock()
	d.sink = nil
	d.mu.Unlock()
	return err
}

// SampleRate implements audio.Sink.
func (d *Device) SampleRate() int { return d.format.SampleRate }

// Play implements audio.Sink: it queues pcm for the playback callback and
// blocks until the callback has drained it or ctx is cancelled.
func (d *Device) Play(ctx context.Context, pcm []byte) error {
	done := make(chan struct{})

	d.mu.Lock()
	d.playback.Write(pcm)
	d.playDoneCh = done
	d.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the device and its malgo context.
func (d *Device) Close() error {
	d.device.Uninit()
	d.ctx.Uninit()
	return nil
}

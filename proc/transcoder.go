package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"
)

var opusSilence = []byte{0xf8, 0xff, 0xfe}

const (
	// Trailing silence sent after the last frame so the listener's jitter
	// buffer does not cut the tail of the track.
	silenceTail   = time.Second
	frameDuration = 20 * time.Millisecond
	fifoFrameSize = 960
)

// pauseGate is open while playback runs. Closing the channel opens it.
type pauseGate struct {
	mu sync.RWMutex
	ch chan struct{}
}

func newPauseGate() *pauseGate {
	ch := make(chan struct{})
	close(ch)
	return &pauseGate{ch: ch}
}

func (g *pauseGate) wait() <-chan struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ch
}

func (g *pauseGate) set(paused bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		if paused {
			g.ch = make(chan struct{})
		}
	default:
		if !paused {
			close(g.ch)
		}
	}
}

// frameProvider feeds encoded Opus frames to the voice connection.
type frameProvider struct {
	frames   chan []byte
	ctx      context.Context
	gate     *pauseGate
	finished chan struct{}
	once     sync.Once

	draining      bool
	silenceFrames int
}

func newFrameProvider(ctx context.Context, gate *pauseGate) *frameProvider {
	return &frameProvider{
		frames:   make(chan []byte, 100),
		ctx:      ctx,
		gate:     gate,
		finished: make(chan struct{}),
	}
}

func (p *frameProvider) finish() {
	p.once.Do(func() { close(p.finished) })
}

// push hands a frame to the provider. A nil frame marks the end of input.
func (p *frameProvider) push(f []byte) {
	select {
	case p.frames <- f:
	case <-p.ctx.Done():
	}
}

func (p *frameProvider) ProvideOpusFrame() ([]byte, error) {
	select {
	case <-p.gate.wait():
	case <-p.ctx.Done():
		p.finish()
		return nil, io.EOF
	}

	if p.draining {
		if p.silenceFrames < int(silenceTail/frameDuration) {
			p.silenceFrames++
			return opusSilence, nil
		}
		p.finish()
		return nil, io.EOF
	}

	select {
	case f := <-p.frames:
		if f == nil {
			p.draining = true
			return opusSilence, nil
		}
		return f, nil
	case <-p.ctx.Done():
		p.finish()
		return nil, io.EOF
	case <-time.After(500 * time.Millisecond):
		return opusSilence, nil
	}
}

func (p *frameProvider) Close() {
	p.finish()
}

// transcoder decodes any input ffmpeg understands and re-encodes it as
// 48kHz stereo Opus in 20ms frames.
type transcoder struct {
	inputCtx               *astiav.FormatContext
	decoderCtx, encoderCtx *astiav.CodecContext
	audioStreamIndex       int
	packet                 *astiav.Packet
	frame                  *astiav.Frame
	resampleCtx            *astiav.SoftwareResampleContext
	resampleFrame          *astiav.Frame
	fifo                   *astiav.AudioFifo
	onFrame                func([]byte)
	pts                    int64
	volume                 *atomic.Int32
}

func newTranscoder(volume *atomic.Int32) *transcoder {
	return &transcoder{
		packet:        astiav.AllocPacket(),
		frame:         astiav.AllocFrame(),
		resampleFrame: astiav.AllocFrame(),
		volume:        volume,
	}
}

// open prepares input, decoder and encoder. On error the caller must still
// call close.
func (t *transcoder) open(in string) error {
	if err := t.openInput(in); err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	if err := t.setupDecoder(); err != nil {
		return fmt.Errorf("setup decoder: %w", err)
	}
	if err := t.setupEncoder(); err != nil {
		return fmt.Errorf("setup encoder: %w", err)
	}
	return nil
}

func (t *transcoder) openInput(in string) error {
	t.inputCtx = astiav.AllocFormatContext()
	if t.inputCtx == nil {
		return errors.New("failed to alloc ctx")
	}
	var opts *astiav.Dictionary
	if strings.HasPrefix(in, "http") {
		opts = astiav.NewDictionary()
		defer opts.Free()
		opts.Set("reconnect", "1", 0)
		opts.Set("reconnect_at_eof", "1", 0)
		opts.Set("reconnect_streamed", "1", 0)
		opts.Set("reconnect_delay_max", "30", 0)
		opts.Set("timeout", "30000000", 0)
		opts.Set("analyzeduration", "10000000", 0)
	}
	if err := t.inputCtx.OpenInput(in, nil, opts); err != nil {
		return err
	}
	if err := t.inputCtx.FindStreamInfo(nil); err != nil {
		return err
	}
	t.audioStreamIndex = -1
	for _, s := range t.inputCtx.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.audioStreamIndex = s.Index()
			break
		}
	}
	if t.audioStreamIndex == -1 {
		return errors.New("no audio")
	}
	return nil
}

func (t *transcoder) setupDecoder() error {
	p := t.inputCtx.Streams()[t.audioStreamIndex].CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return errors.New("no decoder")
	}
	t.decoderCtx = astiav.AllocCodecContext(d)
	_ = p.ToCodecContext(t.decoderCtx)
	return t.decoderCtx.Open(d, nil)
}

func (t *transcoder) setupEncoder() error {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return errors.New("no encoder")
	}
	t.encoderCtx = astiav.AllocCodecContext(e)
	t.encoderCtx.SetBitRate(192000)
	t.encoderCtx.SetSampleRate(48000)
	t.encoderCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoderCtx.SetSampleFormat(astiav.SampleFormatS16)
	t.encoderCtx.SetTimeBase(astiav.NewRational(1, 48000))
	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("compression_level", "10", 0)
	o.Set("frame_size", "20", 0)
	if err := t.encoderCtx.Open(e, o); err != nil {
		return err
	}
	t.resampleCtx = astiav.AllocSoftwareResampleContext()
	if t.resampleCtx == nil {
		return errors.New("failed to allocate resampler")
	}
	return nil
}

// run transcodes until the input ends or ctx is canceled. on receives a
// nil frame last, whatever the outcome.
func (t *transcoder) run(ctx context.Context, on func([]byte)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcoder panic: %v", r)
		}
	}()

	defer t.packet.Unref()
	t.onFrame = on
	defer t.onFrame(nil)

	t.fifo = astiav.AllocAudioFifo(t.encoderCtx.SampleFormat(), t.encoderCtx.ChannelLayout().Channels(), fifoFrameSize*2)
	if t.fifo == nil {
		return errors.New("failed to alloc fifo")
	}
	defer func() {
		t.fifo.Free()
		t.fifo = nil
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t.packet.Unref()
		if err := t.inputCtx.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return err
		}
		if t.packet.StreamIndex() != t.audioStreamIndex {
			continue
		}
		if err := t.decoderCtx.SendPacket(t.packet); err != nil {
			return err
		}
		if err := t.drainDecoder(); err != nil {
			return err
		}
	}

	_ = t.decoderCtx.SendPacket(nil)
	if err := t.drainDecoder(); err != nil {
		return err
	}
	if err := t.processFifo(true); err != nil {
		return err
	}

	_ = t.encoderCtx.SendFrame(nil)
	t.receivePackets()
	return nil
}

func (t *transcoder) drainDecoder() error {
	for {
		if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
			return nil
		}
		err := t.pushToFifo()
		t.frame.Unref()
		if err != nil {
			return err
		}
	}
}

func (t *transcoder) receivePackets() {
	for {
		t.packet.Unref()
		if t.encoderCtx.ReceivePacket(t.packet) != nil {
			return
		}
		d := t.packet.Data()
		fd := make([]byte, len(d))
		copy(fd, d)
		t.onFrame(fd)
	}
}

func (t *transcoder) pushToFifo() error {
	t.resampleFrame.Unref()
	t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
	t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
	t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
	nb := int(astiav.RescaleQ(int64(t.frame.NbSamples()), astiav.NewRational(1, t.frame.SampleRate()), astiav.NewRational(1, t.encoderCtx.SampleRate())))
	if nb <= 0 {
		return nil
	}
	t.resampleFrame.SetNbSamples(nb)
	_ = t.resampleFrame.AllocBuffer(0)
	if t.resampleCtx.ConvertFrame(t.frame, t.resampleFrame) != nil {
		return nil
	}
	_, _ = t.fifo.Write(t.resampleFrame)
	return t.processFifo(false)
}

func (t *transcoder) processFifo(drain bool) error {
	for {
		sz := fifoFrameSize
		if t.fifo.Size() < sz {
			if !drain || t.fifo.Size() == 0 {
				return nil
			}
			sz = t.fifo.Size()
		}
		t.resampleFrame.Unref()
		t.resampleFrame.SetNbSamples(sz)
		t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
		t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
		t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
		_ = t.resampleFrame.AllocBuffer(0)
		_, _ = t.fifo.Read(t.resampleFrame)

		if vol := t.volume.Load(); vol != 100 {
			data, _ := t.resampleFrame.Data().Bytes(1)
			scaleSamples(data, sz*4, vol)
			_ = t.resampleFrame.Data().SetBytes(data, 1)
		}

		t.resampleFrame.SetPts(t.pts)
		t.pts += int64(sz)
		if err := t.encoderCtx.SendFrame(t.resampleFrame); err != nil {
			return err
		}
		t.receivePackets()
	}
}

// scaleSamples applies vol percent to the first limit bytes of interleaved
// little-endian S16 samples, clamping at the int16 range.
func scaleSamples(data []byte, limit int, vol int32) {
	if limit > len(data) {
		limit = len(data)
	}
	for i := 0; i+1 < limit; i += 2 {
		sample := int16(data[i]) | int16(data[i+1])<<8
		scaled := int64(sample) * int64(vol) / 100
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		data[i] = byte(scaled)
		data[i+1] = byte(scaled >> 8)
	}
}

func (t *transcoder) close() {
	if t.resampleCtx != nil {
		t.resampleCtx.Free()
	}
	if t.resampleFrame != nil {
		t.resampleFrame.Free()
	}
	if t.packet != nil {
		t.packet.Free()
	}
	if t.frame != nil {
		t.frame.Free()
	}
	if t.decoderCtx != nil {
		t.decoderCtx.Free()
	}
	if t.encoderCtx != nil {
		t.encoderCtx.Free()
	}
	if t.inputCtx != nil {
		t.inputCtx.CloseInput()
		t.inputCtx.Free()
	}
}

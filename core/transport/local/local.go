// Package local provides a transport backed by the machine's own
// microphone (miniaudio capture) and speakers (portaudio playback),
// mainly for development and demos.
package local

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/gordonklaus/portaudio"

	"github.com/cascadevoice/cascade-core/core/frames"
	"github.com/cascadevoice/cascade-core/core/pipeline"
	"github.com/cascadevoice/cascade-core/core/transport"
)

const captureChunkFrames = 480

// Transport captures microphone audio into the input endpoint and
// plays synthesized audio on the default output device.
type Transport struct {
	params transport.Params

	input  *transport.BaseInput
	output *transport.BaseOutput

	captureMu      sync.Mutex
	audioContext   *malgo.AllocatedContext
	captureDevice  *malgo.Device
	playbackMu     sync.Mutex
	playbackStream *portaudio.Stream
	playbackBuffer []int16
}

func New(params transport.Params) *Transport {
	t := &Transport{params: params}
	t.input = transport.NewBaseInput(params,
		transport.WithInputStartHook(t.startCapture),
		transport.WithInputStopHook(t.stopCapture),
	)
	t.output = transport.NewBaseOutput(params, t,
		transport.WithOutputStartHook(t.startPlayback),
		transport.WithOutputStopHook(t.stopPlayback),
	)
	return t
}

func (t *Transport) Input() pipeline.FrameProcessor  { return t.input }
func (t *Transport) Output() pipeline.FrameProcessor { return t.output }

func (t *Transport) startCapture(*frames.StartFrame) error {
	t.captureMu.Lock()
	defer t.captureMu.Unlock()

	if t.captureDevice != nil {
		return nil
	}

	audioContext, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}
	t.audioContext = audioContext

	sampleRate := t.input.SampleRate()
	format := malgo.FormatS16
	channels := 1
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(sampleRate)
	config.Capture.Format = format
	config.Capture.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = captureChunkFrames
	config.Periods = 3

	device, err := malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			captured := make([]byte, n)
			copy(captured, pInput[:n])
			t.input.PushAudioFrame(frames.NewInputAudioFrame(captured, sampleRate, channels))
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	t.captureDevice = device

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (t *Transport) stopCapture() {
	t.captureMu.Lock()
	defer t.captureMu.Unlock()

	if t.captureDevice != nil {
		t.captureDevice.Uninit()
		t.captureDevice = nil
	}
	if t.audioContext != nil {
		_ = t.audioContext.Uninit()
		t.audioContext.Free()
		t.audioContext = nil
	}
}

func (t *Transport) startPlayback(frame *frames.StartFrame) error {
	t.playbackMu.Lock()
	defer t.playbackMu.Unlock()

	if t.playbackStream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	sampleRate := t.params.AudioOutSampleRate
	if sampleRate == 0 {
		sampleRate = frame.AudioOutSampleRate
	}

	t.playbackBuffer = make([]int16, captureChunkFrames)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), captureChunkFrames, &t.playbackBuffer)
	if err != nil {
		return fmt.Errorf("failed to open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start playback stream: %w", err)
	}
	t.playbackStream = stream
	return nil
}

func (t *Transport) stopPlayback() {
	t.playbackMu.Lock()
	defer t.playbackMu.Unlock()

	if t.playbackStream == nil {
		return
	}
	_ = t.playbackStream.Close()
	_ = portaudio.Terminate()
	t.playbackStream = nil
}

// WriteAudio implements transport.AudioSink: it plays 16-bit
// little-endian mono PCM chunk by chunk.
func (t *Transport) WriteAudio(audio []byte, _, _ int) error {
	t.playbackMu.Lock()
	defer t.playbackMu.Unlock()

	if t.playbackStream == nil {
		return fmt.Errorf("playback stream not started")
	}

	chunkBytes := captureChunkFrames * 2
	for offset := 0; offset+chunkBytes <= len(audio); offset += chunkBytes {
		if err := binary.Read(
			bytes.NewReader(audio[offset:offset+chunkBytes]),
			binary.LittleEndian,
			&t.playbackBuffer,
		); err != nil {
			return fmt.Errorf("failed to frame playback audio: %w", err)
		}
		if err := t.playbackStream.Write(); err != nil {
			return fmt.Errorf("failed to write playback audio: %w", err)
		}
	}
	return nil
}

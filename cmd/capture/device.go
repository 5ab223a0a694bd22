package main

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
)

// newAudioContext initializes the platform audio backend. Failure here means
// the environment cannot capture audio at all.
func newAudioContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio backend unavailable: %w", err)
	}
	return ctx, nil
}

// closeAudioContext releases the backend after all devices are closed.
func closeAudioContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// listCaptureDevices returns the names of the capture devices the backend
// can see.
func listCaptureDevices(ctx *malgo.AllocatedContext) ([]string, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// captureDevice is one open microphone stream delivering float32 samples at
// the requested rate. miniaudio converts and resamples from whatever format
// the hardware actually produces.
type captureDevice struct {
	device *malgo.Device
}

// newCaptureDevice opens the named capture device, or the system default when
// name is empty. onSamples runs on the audio thread and must not block.
func newCaptureDevice(ctx *malgo.AllocatedContext, name string, sampleRate, channels int, onSamples func([]float32)) (*captureDevice, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if name != "" {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("enumerate capture devices: %w", err)
		}
		found := false
		for i := range infos {
			if infos[i].Name() == name {
				deviceConfig.Capture.DeviceID = infos[i].ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("capture device %q not found, use -list-devices", name)
		}
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			onSamples(decodeF32(data))
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("open capture device: %w", err)
	}
	return &captureDevice{device: device}, nil
}

// Start begins delivering samples. On platforms that gate microphone access
// this is where the permission prompt surfaces; denial fails the start.
func (d *captureDevice) Start() error {
	return d.device.Start()
}

func (d *captureDevice) Stop() {
	d.device.Stop()
}

func (d *captureDevice) Close() {
	d.device.Uninit()
}

// decodeF32 interprets the callback's raw bytes as little-endian float32
// samples.
func decodeF32(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

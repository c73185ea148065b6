package main

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.bug.st/serial"
)

// Device listing helpers. Pure convenience output: enumerate, print, exit.

func listMIDIOutputs() error {
	drv, err := rtmididrv.New()
	if err != nil {
		return fmt.Errorf("devices: rtmidi: %w", err)
	}
	defer drv.Close()

	outs, err := drv.Outs()
	if err != nil {
		return fmt.Errorf("devices: list MIDI outputs: %w", err)
	}
	fmt.Println("\nAvailable MIDI output devices:")
	for i, out := range outs {
		fmt.Printf("%d: %s\n", i, out.String())
	}
	return nil
}

func listAudioInputs() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("devices: portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devs, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("devices: list audio devices: %w", err)
	}
	fmt.Println("\nAvailable audio input devices:")
	for i, d := range devs {
		if d.MaxInputChannels > 0 {
			fmt.Printf("%d: %s (channels: %d, default rate: %.0f Hz)\n",
				i, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
		}
	}
	return nil
}

func listSerialPorts() error {
	ports, err := serial.GetPortsList()
	if err != nil {
		return fmt.Errorf("devices: list serial ports: %w", err)
	}
	fmt.Println("\nAvailable serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

// Package audio picks the candidate's microphone and records answer clips
// from it.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// ErrNoMicrophone is returned when Pulse reports no input sources at all.
var ErrNoMicrophone = errors.New("no microphone found")

// Device is one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Label is the name shown to the candidate.
func (d Device) Label() string {
	if d.Description != "" {
		return d.Description
	}
	return d.ID
}

// problem names why d cannot record, or "" when it can.
func (d Device) problem() string {
	switch {
	case !d.Available:
		return "unplugged"
	case d.Muted:
		return "muted"
	default:
		return ""
	}
}

// Selection is the microphone an answer will be recorded from. When the
// configured input could not be used, Skipped and Reason say why.
type Selection struct {
	Device  Device
	Skipped *Device
	Reason  string
}

// Fallback reports whether the configured input was passed over.
func (s Selection) Fallback() bool {
	return s.Skipped != nil
}

// Notice is the candidate-facing line explaining a fallback, or "".
func (s Selection) Notice() string {
	if s.Skipped == nil {
		return ""
	}
	return fmt.Sprintf("Microphone %q is %s; recording from %q instead", s.Skipped.Label(), s.Reason, s.Device.Label())
}

// ListDevices returns the Pulse input sources in server order.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := connect()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	source, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default microphone: %w", err)
	}

	var reply pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("list microphones: %w", err)
	}
	return devicesFrom(reply, source.ID()), nil
}

func devicesFrom(reply pulseproto.GetSourceInfoListReply, defaultID string) []Device {
	devices := make([]Device, 0, len(reply))
	for _, info := range reply {
		if info == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          info.SourceName,
			Description: info.Device,
			State:       stateName(info.State),
			Available:   activePortUsable(info),
			Muted:       info.Mute,
			Default:     info.SourceName == defaultID,
		})
	}
	return devices
}

// SelectDevice resolves the audio.input and audio.fallback preferences
// against the live source list.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return Choose(devices, input, fallback)
}

// Choose picks a microphone from devices. input and fallback are "default"
// (or empty) for the Pulse default source, otherwise a case-insensitive
// substring of a source id or description. fallback is consulted only
// when input resolves to a muted or unplugged source.
func Choose(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, ErrNoMicrophone
	}

	primary, err := resolve(devices, "audio.input", input)
	if err != nil {
		return Selection{}, err
	}
	reason := primary.problem()
	if reason == "" {
		return Selection{Device: primary}, nil
	}

	alternate, err := resolve(devices, "audio.fallback", fallback)
	if err != nil {
		return Selection{}, fmt.Errorf("microphone %q is %s and %w", primary.Label(), reason, err)
	}
	if alternate.ID == primary.ID {
		return Selection{}, fmt.Errorf("microphone %q is %s and no other input is configured", primary.Label(), reason)
	}
	if problem := alternate.problem(); problem != "" {
		return Selection{}, fmt.Errorf("microphone %q is %s and fallback %q is %s", primary.Label(), reason, alternate.Label(), problem)
	}

	return Selection{Device: alternate, Skipped: &primary, Reason: reason}, nil
}

func resolve(devices []Device, key string, preference string) (Device, error) {
	term := strings.ToLower(strings.TrimSpace(preference))
	if term == "" || term == "default" {
		for _, d := range devices {
			if d.Default {
				return d, nil
			}
		}
		return Device{}, errors.New("no default microphone is set")
	}
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.ID), term) || strings.Contains(strings.ToLower(d.Description), term) {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%s %q matches no microphone", key, term)
}

func connect() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("intervue"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

func stateName(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// activePortUsable is false only when Pulse says the active port is
// unplugged. Sources without ports are always usable.
func activePortUsable(info *pulseproto.GetSourceInfoReply) bool {
	for _, port := range info.Ports {
		if port.Name == info.ActivePortName {
			// unknown=0, no=1, yes=2
			return port.Available != 1
		}
	}
	return true
}

package audio

import (
	"context"
	"reflect"
	"testing"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"
)

var (
	headsetMic = Device{ID: "bluez_input.sony", Description: "Sony WH-1000XM6", Available: true}
	deskMic    = Device{ID: "alsa_input.usb-elgato", Description: "Elgato Wave 3", Available: true, Default: true}
	laptopMic  = Device{ID: "alsa_input.pci-analog", Available: true}
)

func mic(d Device, mutate func(*Device)) Device {
	mutate(&d)
	return d
}

func TestChoose(t *testing.T) {
	mutedDesk := mic(deskMic, func(d *Device) { d.Muted = true })
	unpluggedHeadset := mic(headsetMic, func(d *Device) { d.Available = false })

	tests := []struct {
		name     string
		devices  []Device
		input    string
		fallback string
		want     string
		notice   string
		wantErr  string
	}{
		{
			name:     "default source",
			devices:  []Device{deskMic, headsetMic},
			input:    "default",
			fallback: "default",
			want:     deskMic.ID,
		},
		{
			name:    "empty preference means default",
			devices: []Device{headsetMic, deskMic},
			want:    deskMic.ID,
		},
		{
			name:     "input matches description case-insensitively",
			devices:  []Device{deskMic, headsetMic},
			input:    "  SONY wh ",
			fallback: "default",
			want:     headsetMic.ID,
		},
		{
			name:     "muted default falls back to named input",
			devices:  []Device{mutedDesk, headsetMic},
			input:    "default",
			fallback: "sony",
			want:     headsetMic.ID,
			notice:   `Microphone "Elgato Wave 3" is muted; recording from "Sony WH-1000XM6" instead`,
		},
		{
			name:     "unplugged input falls back to default",
			devices:  []Device{deskMic, unpluggedHeadset},
			input:    "sony",
			fallback: "default",
			want:     deskMic.ID,
			notice:   `Microphone "Sony WH-1000XM6" is unplugged; recording from "Elgato Wave 3" instead`,
		},
		{
			name:     "notice uses id when description is empty",
			devices:  []Device{mic(laptopMic, func(d *Device) { d.Muted = true }), deskMic},
			input:    "analog",
			fallback: "default",
			want:     deskMic.ID,
			notice:   `Microphone "alsa_input.pci-analog" is muted; recording from "Elgato Wave 3" instead`,
		},
		{
			name:     "muted default with default fallback",
			devices:  []Device{mutedDesk, headsetMic},
			input:    "default",
			fallback: "default",
			wantErr:  `microphone "Elgato Wave 3" is muted and no other input is configured`,
		},
		{
			name:     "fallback also unusable",
			devices:  []Device{mutedDesk, unpluggedHeadset},
			input:    "default",
			fallback: "sony",
			wantErr:  `microphone "Elgato Wave 3" is muted and fallback "Sony WH-1000XM6" is unplugged`,
		},
		{
			name:     "fallback matches nothing",
			devices:  []Device{mutedDesk},
			input:    "elgato",
			fallback: "rode",
			wantErr:  `microphone "Elgato Wave 3" is muted and audio.fallback "rode" matches no microphone`,
		},
		{
			name:     "input matches nothing",
			devices:  []Device{deskMic},
			input:    "Rode NT-USB",
			fallback: "default",
			wantErr:  `audio.input "rode nt-usb" matches no microphone`,
		},
		{
			name:     "no default source",
			devices:  []Device{headsetMic},
			input:    "default",
			fallback: "default",
			wantErr:  "no default microphone is set",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			selection, err := Choose(tc.devices, tc.input, tc.fallback)
			if tc.wantErr != "" {
				require.EqualError(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, selection.Device.ID)
			require.Equal(t, tc.notice, selection.Notice())
			require.Equal(t, tc.notice != "", selection.Fallback())
		})
	}
}

func TestChooseWithoutDevices(t *testing.T) {
	_, err := Choose(nil, "default", "default")
	require.ErrorIs(t, err, ErrNoMicrophone)
}

func TestDevicesFromMarksDefaultAndUnpluggedPorts(t *testing.T) {
	desk := &pulseproto.GetSourceInfoReply{SourceName: "alsa_input.usb-elgato", Device: "Elgato Wave 3", State: 1}
	headset := &pulseproto.GetSourceInfoReply{SourceName: "bluez_input.sony", Device: "Sony WH-1000XM6", Mute: true, ActivePortName: "headset-mic"}
	setSourcePorts(t, headset, []sourcePort{{name: "headset-mic", available: 1}})
	jack := &pulseproto.GetSourceInfoReply{SourceName: "alsa_input.pci-analog", State: 7, ActivePortName: "line-in"}
	setSourcePorts(t, jack, []sourcePort{{name: "mic", available: 1}, {name: "line-in", available: 2}})

	devices := devicesFrom(pulseproto.GetSourceInfoListReply{desk, nil, headset, jack}, "alsa_input.usb-elgato")

	require.Equal(t, []Device{
		{ID: "alsa_input.usb-elgato", Description: "Elgato Wave 3", State: "idle", Available: true, Default: true},
		{ID: "bluez_input.sony", Description: "Sony WH-1000XM6", State: "running", Available: false, Muted: true},
		{ID: "alsa_input.pci-analog", State: "unknown(7)", Available: true},
	}, devices)
}

func TestListDevicesFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListDevices(context.Background())
	require.ErrorContains(t, err, "connect pulse server")

	_, err = SelectDevice(context.Background(), "default", "default")
	require.Error(t, err)
}

type sourcePort struct {
	name      string
	available uint32
}

// setSourcePorts fills reply.Ports, whose element type is unexported by
// the pulse proto package.
func setSourcePorts(t *testing.T, reply *pulseproto.GetSourceInfoReply, ports []sourcePort) {
	t.Helper()

	slice := reflect.MakeSlice(reflect.TypeOf(reply.Ports), len(ports), len(ports))
	for i, port := range ports {
		item := slice.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}
	reflect.ValueOf(reply).Elem().FieldByName("Ports").Set(slice)
}

package bluealsa

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/MrWong99/btlatency/pkg/pcm"
)

const sinkReport = `/org/bluealsa/hci0/dev_12_34_56_78_9A_BC/a2dpsrc/sink
Device: /org/bluez/hci0/dev_12_34_56_78_9A_BC
Sequence: 7
Transport: A2DP-source
Mode: sink
Running: true
Format: S16_LE
Channels: 2
ChannelMap: FL FR
Rate: 48000 Hz
Available codecs: SBC AAC
Selected codec: SBC:ffff0235
Reconfigurable: true
Delay: 150.0 ms
ClientDelay: 0.0 ms
SoftVolume: false
Volume: L: 127 R: 127
Mute: L: false R: false
`

func TestParseInfo_SinkReport(t *testing.T) {
	info, err := ParseInfo(strings.NewReader(sinkReport))
	if err != nil {
		t.Fatalf("ParseInfo: %v", err)
	}
	want := &PCMInfo{
		Device:    "/org/bluez/hci0/dev_12_34_56_78_9A_BC",
		Transport: "A2DP-source",
		Codec:     "SBC:ffff0235",
		Mode:      ModeSink,
		Running:   true,
		Format:    pcm.S16LE,
		Channels:  2,
		Rate:      48000,
		Delay:     150 * time.Millisecond,
	}
	if diff := cmp.Diff(want, info, cmpopts.IgnoreFields(PCMInfo{}, "Fields")); diff != "" {
		t.Errorf("ParseInfo mismatch (-want +got):\n%s", diff)
	}
	// Values keep everything after the first colon.
	if got := info.Fields["volume"]; got != "L: 127 R: 127" {
		t.Errorf(`Fields["volume"] = %q`, got)
	}
}

func TestParseInfo_SourceWithOddSpacing(t *testing.T) {
	report := "MODE :   source  \nTransport:HFP-AG\nSelected Codec: mSBC\nFormat: S24_LE\nChannels: 1\nRate: 16000 Hz\n"
	info, err := ParseInfo(strings.NewReader(report))
	if err != nil {
		t.Fatalf("ParseInfo: %v", err)
	}
	if info.Mode != ModeSource || info.Format != pcm.S24LE || info.Rate != 16000 || info.Channels != 1 {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.Delay != 0 || info.Running {
		t.Errorf("optional fields should be zero: delay=%v running=%v", info.Delay, info.Running)
	}
}

func TestParseInfo_Malformed(t *testing.T) {
	full := map[string]string{
		"Transport":      "A2DP-source",
		"Selected codec": "SBC",
		"Format":         "S16_LE",
		"Channels":       "2",
		"Rate":           "48000 Hz",
		"Mode":           "sink",
	}
	report := func(override map[string]string, drop string) string {
		var b strings.Builder
		for k, v := range full {
			if k == drop {
				continue
			}
			if o, ok := override[k]; ok {
				v = o
			}
			b.WriteString(k + ": " + v + "\n")
		}
		return b.String()
	}

	tests := []struct {
		name     string
		report   string
		sentinel error
	}{
		{"missing transport", report(nil, "Transport"), ErrMalformedInfo},
		{"missing codec", report(nil, "Selected codec"), ErrMalformedInfo},
		{"missing mode", report(nil, "Mode"), ErrMalformedInfo},
		{"bad channels", report(map[string]string{"Channels": "two"}, ""), ErrMalformedInfo},
		{"bad rate", report(map[string]string{"Rate": "Hz"}, ""), ErrMalformedInfo},
		{"bad mode", report(map[string]string{"Mode": "duplex"}, ""), ErrMalformedInfo},
		{"unknown format", report(map[string]string{"Format": "FLOAT_LE"}, ""), pcm.ErrUnknownFormat},
		{"empty", "", ErrMalformedInfo},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseInfo(strings.NewReader(tc.report))
			if !errors.Is(err, tc.sentinel) {
				t.Errorf("err = %v, want %v", err, tc.sentinel)
			}
		})
	}
}

func TestParseInfo_UnsupportedFormatParses(t *testing.T) {
	// Support is decided when building a codec, not when parsing.
	report := "Transport: A2DP-sink\nSelected codec: SBC\nFormat: S24_3LE\nChannels: 2\nRate: 44100 Hz\nMode: source\n"
	info, err := ParseInfo(strings.NewReader(report))
	if err != nil {
		t.Fatalf("ParseInfo: %v", err)
	}
	if _, err := pcm.NewCodec(info.Format, info.Channels); !errors.Is(err, pcm.ErrUnsupportedFormat) {
		t.Errorf("NewCodec err = %v, want ErrUnsupportedFormat", err)
	}
}

package media

import (
	"testing"

	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAudioHeaderByteMapsSampleRateAndChannels exercises the §6 mapping
// table directly against decoded ASC fields, independent of the ASC bit
// layout, so each case isolates one row of the table.
func TestAudioHeaderByteMapsSampleRateAndChannels(t *testing.T) {
	cases := []struct {
		name string
		cfg  mpeg4audio.Config
		want byte
	}{
		{"44100 stereo", mpeg4audio.Config{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 44100, ChannelCount: 2}, 0xAF},
		{"48000 stereo", mpeg4audio.Config{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 48000, ChannelCount: 2}, 0xAF},
		{"44100 mono", mpeg4audio.Config{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 44100, ChannelCount: 1}, 0xAE},
		{"22050 stereo", mpeg4audio.Config{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 22050, ChannelCount: 2}, 0xAB},
		{"22050 mono", mpeg4audio.Config{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 22050, ChannelCount: 1}, 0xAA},
		{"11025 stereo", mpeg4audio.Config{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 11025, ChannelCount: 2}, 0xA7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := audioHeaderByte(tc.cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAudioHeaderByteRejectsUnsupportedConfigurations(t *testing.T) {
	cases := []struct {
		name string
		cfg  mpeg4audio.Config
	}{
		{"96000Hz unsupported", mpeg4audio.Config{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 96000, ChannelCount: 2}},
		{"5.1 channel count unsupported", mpeg4audio.Config{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 44100, ChannelCount: 6}},
		{"non AAC-LC object type", mpeg4audio.Config{Type: 1, SampleRate: 44100, ChannelCount: 2}},
		{"HE-AAC object type", mpeg4audio.Config{Type: 5, SampleRate: 44100, ChannelCount: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := audioHeaderByte(tc.cfg)
			assert.Error(t, err)
		})
	}
}

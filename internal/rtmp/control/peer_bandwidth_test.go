package control

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashgrove/rtmp-publish/internal/rtmp/chunk"
)

// TestSetPeerBandwidthLattice drives the UNKNOWN/HARD/SOFT/DYNAMIC
// store-or-ignore rules through every combination the lattice distinguishes.
func TestSetPeerBandwidthLattice(t *testing.T) {
	cases := []struct {
		name          string
		startBW       uint32
		startLT       uint8
		recvBW        uint32
		recvLT        uint8
		wantBW        uint32
		wantLT        uint8
	}{
		{"unknown always stores HARD", 0, LimitUnknown, 5_000_000, LimitHard, 5_000_000, LimitHard},
		{"unknown always stores SOFT", 0, LimitUnknown, 5_000_000, LimitSoft, 5_000_000, LimitSoft},
		{"unknown always stores DYNAMIC", 0, LimitUnknown, 5_000_000, LimitDynamic, 5_000_000, LimitDynamic},
		{"HARD overrides SOFT", 2_000_000, LimitSoft, 9_000_000, LimitHard, 9_000_000, LimitHard},
		{"DYNAMIC relaxes HARD", 2_000_000, LimitHard, 9_000_000, LimitDynamic, 9_000_000, LimitDynamic},
		{"tighter SOFT stores", 5_000_000, LimitSoft, 1_000_000, LimitSoft, 1_000_000, LimitSoft},
		{"looser SOFT ignored", 1_000_000, LimitSoft, 5_000_000, LimitSoft, 1_000_000, LimitSoft},
		{"DYNAMIC ignored under SOFT", 1_000_000, LimitSoft, 5_000_000, LimitDynamic, 1_000_000, LimitSoft},
		{"DYNAMIC ignored under DYNAMIC", 1_000_000, LimitDynamic, 5_000_000, LimitDynamic, 1_000_000, LimitDynamic},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			readChunkSize := uint32(128)
			windowAckSize := uint32(0)
			bw := tc.startBW
			lt := tc.startLT
			lastAck := uint32(0)
			ctx := &Context{
				ReadChunkSize: &readChunkSize,
				WindowAckSize: &windowAckSize,
				PeerBandwidth: &bw,
				LimitType:     &lt,
				LastPeerAck:   &lastAck,
				Log:           slog.Default(),
				Send:          func(*chunk.Message) error { return nil },
			}
			msg := EncodeSetPeerBandwidth(tc.recvBW, tc.recvLT)
			require.NoError(t, Handle(ctx, msg))
			assert.Equal(t, tc.wantBW, bw)
			assert.Equal(t, tc.wantLT, lt)
		})
	}
}

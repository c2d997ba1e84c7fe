package hdf5

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup3(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{
			// Zero-length input returns the seeded initial value without
			// any mixing.
			name: "empty input",
			data: nil,
			want: 0xdeadbeef,
		},
		{
			// Published hashlittle self-test vector.
			name: "documented vector",
			data: []byte("Four score and seven years ago"),
			want: 0x17770551,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, lookup3(tt.data))
		})
	}
}

func TestLookup3Sensitivity(t *testing.T) {
	t.Parallel()

	// Flipping any single byte must change the checksum; this is what the
	// metadata verification relies on.
	base := make([]byte, 64)
	for i := range base {
		base[i] = byte(i * 7)
	}
	want := lookup3(base)
	for i := range base {
		mutated := append([]byte{}, base...)
		mutated[i] ^= 0x01
		assert.NotEqual(t, want, lookup3(mutated), "byte %d", i)
	}
}

func TestFletcher32(t *testing.T) {
	t.Parallel()

	// Hand-computed against the big-endian word rule: each pair (hi, lo)
	// contributes hi<<8|lo to sum1 and the running sum1 to sum2, with the
	// result packed as sum2<<16|sum1.
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{name: "empty input", data: nil, want: 0},
		{name: "single byte", data: []byte{0x01}, want: 0x01000100},
		{name: "one word", data: []byte{0x01, 0x02}, want: 0x01020102},
		{name: "two words", data: []byte{0x01, 0x02, 0x03, 0x04}, want: 0x05080406},
		{name: "odd tail", data: []byte{0x01, 0x02, 0x03}, want: 0x05040402},
		{name: "all ones word", data: []byte{0xff, 0xff}, want: 0xffffffff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, fletcher32(tt.data))
		})
	}
}

func TestFletcher32LongInput(t *testing.T) {
	t.Parallel()

	// Exercise the 360-word block folding and make sure the deferred
	// reduction stays stable across block boundaries.
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	first := fletcher32(data)
	assert.Equal(t, first, fletcher32(data))
	assert.NotZero(t, first)

	mutated := append([]byte{}, data...)
	mutated[1000] ^= 0x80
	assert.NotEqual(t, first, fletcher32(mutated))
}

package transport

import (
	"bytes"
	"testing"
)

func TestWritePadding(t *testing.T) {
	tests := []struct {
		name    string
		padding int
		in      []byte
		want    []byte
	}{
		{
			name:    "disabled",
			padding: 0,
			in:      []byte{1, 2, 3},
			want:    []byte{1, 2, 3},
		},
		{
			name:    "already aligned",
			padding: 4,
			in:      []byte{1, 2, 3, 4},
			want:    []byte{1, 2, 3, 4},
		},
		{
			name:    "pad to boundary",
			padding: 4,
			in:      []byte{1, 2, 3, 4, 5},
			want:    []byte{1, 2, 3, 4, 5, 0, 0, 0},
		},
		{
			name:    "short write",
			padding: 16,
			in:      []byte{0xaa},
			want:    append([]byte{0xaa}, make([]byte, 15)...),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p padding
			p.SetWritePadding(tt.padding)
			got := p.align(tt.in)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("align(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if p.WritePadding() != tt.padding {
				t.Errorf("WritePadding() = %d, want %d", p.WritePadding(), tt.padding)
			}
		})
	}
}

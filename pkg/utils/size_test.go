package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"1024", 1024},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"512KB", 512 * 1000},
		{"1MB", 1000 * 1000},
		{"1MiB", 1024 * 1024},
		{"1.5MiB", 1024*1024 + 512*1024},
		{"2G", 2 * 1024 * 1024 * 1024},
		{" 64 KiB ", 64 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDataSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseDataSizeErrors(t *testing.T) {
	for _, input := range []string{"", "abc", "12XB", "MB12"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseDataSize(input)
			assert.Error(t, err)
		})
	}
}

func TestFormatDataSize(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1 MB"},
		{-1, "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDataSize(tt.bytes))
		})
	}
}

package processor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
)

// Format is the result of sniffing an image header
type Format int

const (
	FormatUnknown Format = iota
	FormatPNG
	FormatJPEG
)

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	}
	return "unknown"
}

const sniffLen = 8

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

// Sniff classifies head by its magic bytes. PNG needs the full 8-byte
// signature, JPEG the 3-byte SOI marker.
func Sniff(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, pngSignature) && filetype.Is(head, matchers.TypePng.Extension):
		return FormatPNG
	case filetype.Is(head, matchers.TypeJpeg.Extension):
		return FormatJPEG
	}
	return FormatUnknown
}

// validateFile sniffs the start of path and rejects anything but PNG or JPEG
func validateFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to open for validation: %w", err)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, fmt.Errorf("failed to read header: %w", err)
	}

	format := Sniff(head[:n])
	if format == FormatUnknown {
		return format, ErrFormatNotAllowed
	}
	return format, nil
}

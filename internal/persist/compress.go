package persist

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
)

// Compress deflates data into a length-prefixed stream: 4 bytes big-endian
// original length followed by the raw deflate payload. The prefix lets
// Decompress pre-size its buffer and sanity-check the result.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	buf.Write(prefix[:])

	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("create deflate writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close deflate writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Decompress reverses Compress. It fails when the stream is truncated or
// the inflated size does not match the recorded prefix.
func Decompress(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("compressed payload too short (%d bytes)", len(data))
	}
	originalLen := binary.BigEndian.Uint32(data[:4])

	r := flate.NewReader(bytes.NewReader(data[4:]))
	defer r.Close()

	out := make([]byte, 0, originalLen)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}

	if uint32(buf.Len()) != originalLen {
		return nil, fmt.Errorf("inflated size %d does not match recorded size %d", buf.Len(), originalLen)
	}
	return buf.Bytes(), nil
}

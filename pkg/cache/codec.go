package cache

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// codec serializes entries for the slow tier. Payloads larger than threshold
// bytes are zstd-encoded before serialization.
type codec struct {
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

func newCodec(threshold int) (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &codec{threshold: threshold, enc: enc, dec: dec}, nil
}

func (c *codec) encode(e *Entry) ([]byte, error) {
	rec := e.clone()
	rec.Compressed = false
	if len(e.Payload) > c.threshold {
		rec.Payload = c.enc.EncodeAll(e.Payload, make([]byte, 0, len(e.Payload)/2))
		rec.Compressed = true
		CompressedWrites.Inc()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

func (c *codec) decode(data []byte) (*Entry, error) {
	var rec Entry
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if rec.Key == "" || rec.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing key or timestamp", ErrInvalidEntry)
	}

	if rec.Compressed {
		payload, err := c.dec.DecodeAll(rec.Payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress payload: %v", ErrInvalidEntry, err)
		}
		rec.Payload = payload
		rec.Compressed = false
	}
	return &rec, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}

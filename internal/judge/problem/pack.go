package problem

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"judgelet/internal/judge/stream"
)

// Data packs are zstd-compressed JSON arrays of test cases, stored as one
// object per problem. They keep big hidden test sets out of MySQL rows.

// EncodePack serializes and compresses a test-case list.
func EncodePack(tests []stream.TestCase) ([]byte, error) {
	raw, err := json.Marshal(tests)
	if err != nil {
		return nil, fmt.Errorf("marshal pack: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// DecodePack decompresses and parses a data-pack object.
func DecodePack(data []byte) ([]stream.TestCase, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress pack: %w", err)
	}
	var tests []stream.TestCase
	if err := json.Unmarshal(raw, &tests); err != nil {
		return nil, fmt.Errorf("parse pack: %w", err)
	}
	return tests, nil
}

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/roach88/s3k/internal/canon"
)

// marshalWords converts a register vector to canonical JSON text.
func marshalWords(words []uint64) (string, error) {
	if words == nil {
		words = []uint64{}
	}
	data, err := canon.Marshal(words)
	if err != nil {
		return "", fmt.Errorf("marshal words: %w", err)
	}
	return string(data), nil
}

// unmarshalWords parses a stored register vector. Numbers are decoded
// through json.Number so values above 2^53 survive.
func unmarshalWords(data string) ([]uint64, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var raw []json.Number
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal words: %w", err)
	}
	words := make([]uint64, len(raw))
	for i, n := range raw {
		w, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unmarshal words[%d]: %w", i, err)
		}
		words[i] = w
	}
	return words, nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

package geo

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Coordinates is a ring given as [lng, lat] pairs on the wire. Decoding
// rejects null entries inside a pair instead of reading them as zero.
type Coordinates [][]float64

// UnmarshalJSON implements json.Unmarshaler. A literal null leaves the
// value untouched so absent and null fields behave alike.
func (c *Coordinates) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	var raw [][]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: coordinates must be an array of [lng, lat] number pairs", ErrMalformedGeometry)
	}

	out := make(Coordinates, len(raw))
	for i, pair := range raw {
		if pair == nil {
			return fmt.Errorf("%w: coordinate %d must be a [lng, lat] pair", ErrMalformedGeometry, i)
		}
		out[i] = make([]float64, len(pair))
		for j, v := range pair {
			if v == nil {
				return fmt.Errorf("%w: coordinate %d has a null value", ErrMalformedGeometry, i)
			}
			out[i][j] = *v
		}
	}
	*c = out
	return nil
}

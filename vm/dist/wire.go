package dist

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode is canonical CBOR, for deterministic encoding, with
// timestamps kept at nanosecond precision.
var cborEncMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalCensus serializes a Census to CBOR bytes.
func MarshalCensus(c *Census) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// UnmarshalCensus deserializes a Census from CBOR bytes.
func UnmarshalCensus(data []byte) (*Census, error) {
	var c Census
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("dist: unmarshal census: %w", err)
	}
	if c.Classes == nil {
		c.Classes = make(map[string]int)
	}
	return &c, nil
}

// MarshalCacheStats serializes cache statistics to CBOR bytes.
func MarshalCacheStats(s *CacheStats) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalCacheStats deserializes cache statistics from CBOR bytes.
func UnmarshalCacheStats(data []byte) (*CacheStats, error) {
	var s CacheStats
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("dist: unmarshal cache stats: %w", err)
	}
	return &s, nil
}

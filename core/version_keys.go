package core

import (
	"encoding/binary"
	"math"
)

// Timestamp is the version timestamp of a logical record, in nanoseconds for
// wall-clock workloads.
type Timestamp = uint64

const (
	IndexIDSize   = 4
	KeyIDSize     = 4
	PrefixSize    = IndexIDSize + KeyIDSize // indexId ∥ key
	TimestampSize = 8
	ValueSize     = 8

	EmbeddedKeySize = PrefixSize + TimestampSize
	UDTKeySize      = PrefixSize
)

// MaxDescTimestamp is the largest timestamp embed_desc can encode.
const MaxDescTimestamp Timestamp = math.MaxInt64

// RecordKey identifies a logical record independent of its storage encoding.
type RecordKey struct {
	IndexID int32
	Key     int32
}

// Version is one timestamped value of a logical record.
type Version struct {
	Timestamp Timestamp
	RowID     int64
}

// AppendRecordPrefix appends the 8-byte indexId ∥ key prefix to dst.
// All integer fields are big-endian so that bytewise order matches numeric
// order of the unsigned representation.
func AppendRecordPrefix(dst []byte, indexID, key int32) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(indexID))
	return binary.BigEndian.AppendUint32(dst, uint32(key))
}

// RecordPrefix returns the 8-byte prefix shared by every version of a logical
// record under the embedded strategies, and the full key under udt.
func RecordPrefix(indexID, key int32) []byte {
	return AppendRecordPrefix(make([]byte, 0, PrefixSize), indexID, key)
}

// EncodeKey builds the physical key for (indexID, key, ts) under strategy s.
// The timestamp is ignored for udt, where it travels out of band.
func EncodeKey(indexID, key int32, ts Timestamp, s Strategy) ([]byte, error) {
	switch s {
	case StrategyEmbedAsc:
		buf := make([]byte, 0, EmbeddedKeySize)
		buf = AppendRecordPrefix(buf, indexID, key)
		return binary.BigEndian.AppendUint64(buf, ts), nil
	case StrategyEmbedDesc:
		if ts > MaxDescTimestamp {
			return nil, ErrTimestampOutOfRange
		}
		buf := make([]byte, 0, EmbeddedKeySize)
		buf = AppendRecordPrefix(buf, indexID, key)
		return binary.BigEndian.AppendUint64(buf, uint64(MaxDescTimestamp-ts)), nil
	case StrategyUDT:
		return RecordPrefix(indexID, key), nil
	default:
		return nil, &UnsupportedStrategyError{Strategy: s.String(), Op: "encode key"}
	}
}

// DecodeKey parses a physical key produced by EncodeKey. For udt the returned
// timestamp is always zero.
func DecodeKey(b []byte, s Strategy) (RecordKey, Timestamp, error) {
	size, err := s.KeySize()
	if err != nil {
		return RecordKey{}, 0, err
	}
	if len(b) != size {
		return RecordKey{}, 0, &DecodeError{Strategy: s.String(), Field: "key", Want: size, Got: len(b)}
	}
	rk := RecordKey{
		IndexID: int32(binary.BigEndian.Uint32(b[:IndexIDSize])),
		Key:     int32(binary.BigEndian.Uint32(b[IndexIDSize:PrefixSize])),
	}
	if s == StrategyUDT {
		return rk, 0, nil
	}
	ts, err := DecodeTimestampSuffix(b, s)
	if err != nil {
		return RecordKey{}, 0, err
	}
	return rk, ts, nil
}

// DecodeTimestampSuffix returns the real timestamp carried by an embedded key.
func DecodeTimestampSuffix(b []byte, s Strategy) (Timestamp, error) {
	switch s {
	case StrategyEmbedAsc, StrategyEmbedDesc:
	default:
		return 0, &UnsupportedStrategyError{Strategy: s.String(), Op: "decode timestamp suffix"}
	}
	if len(b) != EmbeddedKeySize {
		return 0, &DecodeError{Strategy: s.String(), Field: "key", Want: EmbeddedKeySize, Got: len(b)}
	}
	raw := binary.BigEndian.Uint64(b[PrefixSize:])
	if s == StrategyEmbedAsc {
		return raw, nil
	}
	if raw > uint64(MaxDescTimestamp) {
		return 0, &DecodeError{Strategy: s.String(), Field: "key", Want: EmbeddedKeySize, Got: len(b), Message: "inverted timestamp exceeds MaxInt64"}
	}
	return MaxDescTimestamp - raw, nil
}

// EncodeTimestamp encodes ts for the engine timestamp channel.
func EncodeTimestamp(ts Timestamp) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, TimestampSize), ts)
}

// EncodeValue encodes a row id as the 8-byte stored value.
func EncodeValue(rowID int64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, ValueSize), uint64(rowID))
}

// DecodeValue decodes an 8-byte stored value into a row id.
func DecodeValue(b []byte) (int64, error) {
	if len(b) != ValueSize {
		return 0, &DecodeError{Field: "value", Want: ValueSize, Got: len(b)}
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

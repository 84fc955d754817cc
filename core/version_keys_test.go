package core

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKey_Layout(t *testing.T) {
	testCases := []struct {
		name     string
		strategy Strategy
		indexID  int32
		key      int32
		ts       Timestamp
		expected []byte
	}{
		{
			name:     "embed_asc",
			strategy: StrategyEmbedAsc,
			indexID:  1,
			key:      2,
			ts:       3,
			expected: []byte{0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0, 3},
		},
		{
			name:     "embed_desc",
			strategy: StrategyEmbedDesc,
			indexID:  1,
			key:      2,
			ts:       3,
			expected: []byte{0, 0, 0, 1, 0, 0, 0, 2, 0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfc},
		},
		{
			name:     "udt ignores timestamp",
			strategy: StrategyUDT,
			indexID:  1,
			key:      2,
			ts:       3,
			expected: []byte{0, 0, 0, 1, 0, 0, 0, 2},
		},
		{
			name:     "negative ids",
			strategy: StrategyEmbedAsc,
			indexID:  -1,
			key:      -2,
			ts:       0,
			expected: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe, 0, 0, 0, 0, 0, 0, 0, 0},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeKey(tc.indexID, tc.key, tc.ts, tc.strategy)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
			size, err := tc.strategy.KeySize()
			require.NoError(t, err)
			assert.Len(t, got, size)
		})
	}
}

func TestDecodeKey_RoundTrip(t *testing.T) {
	ids := []RecordKey{{0, 0}, {1, 2}, {15, 999999}, {math.MaxInt32, math.MinInt32}, {-7, 42}}
	timestamps := []Timestamp{0, 1, 1761139362806988526, MaxDescTimestamp}

	for _, s := range []Strategy{StrategyEmbedAsc, StrategyEmbedDesc} {
		for _, rk := range ids {
			for _, ts := range timestamps {
				enc, err := EncodeKey(rk.IndexID, rk.Key, ts, s)
				require.NoError(t, err)
				gotKey, gotTS, err := DecodeKey(enc, s)
				require.NoError(t, err, "strategy %s", s)
				assert.Equal(t, rk, gotKey)
				assert.Equal(t, ts, gotTS)
			}
		}
	}

	// udt carries the timestamp out of band, only the record identity round-trips.
	for _, rk := range ids {
		enc, err := EncodeKey(rk.IndexID, rk.Key, 12345, StrategyUDT)
		require.NoError(t, err)
		gotKey, gotTS, err := DecodeKey(enc, StrategyUDT)
		require.NoError(t, err)
		assert.Equal(t, rk, gotKey)
		assert.Zero(t, gotTS)
	}
}

func TestEncodeKey_Ordering(t *testing.T) {
	timestamps := []Timestamp{0, 1, 2, 255, 256, 1 << 32, 1761139362806988525, 1761139362806988526}

	t.Run("embed_asc keys ascend with timestamp", func(t *testing.T) {
		var prev []byte
		for _, ts := range timestamps {
			k, err := EncodeKey(3, 4, ts, StrategyEmbedAsc)
			require.NoError(t, err)
			if prev != nil {
				assert.Equal(t, -1, bytes.Compare(prev, k), "ts %d", ts)
			}
			prev = k
		}
	})

	t.Run("embed_desc keys descend with timestamp", func(t *testing.T) {
		var prev []byte
		for _, ts := range timestamps {
			k, err := EncodeKey(3, 4, ts, StrategyEmbedDesc)
			require.NoError(t, err)
			if prev != nil {
				assert.Equal(t, 1, bytes.Compare(prev, k), "ts %d", ts)
			}
			prev = k
		}
	})

	t.Run("versions share the record prefix", func(t *testing.T) {
		prefix := RecordPrefix(3, 4)
		for _, s := range []Strategy{StrategyEmbedAsc, StrategyEmbedDesc, StrategyUDT} {
			k, err := EncodeKey(3, 4, 77, s)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(k, prefix), "strategy %s", s)
		}
	})
}

func TestEncodeKey_Errors(t *testing.T) {
	_, err := EncodeKey(1, 1, MaxDescTimestamp+1, StrategyEmbedDesc)
	assert.ErrorIs(t, err, ErrTimestampOutOfRange)

	_, err = EncodeKey(1, 1, 1, Strategy(9))
	require.Error(t, err)
	assert.True(t, IsUnsupportedStrategyError(err))

	// Ascending embedding accepts the whole uint64 range.
	_, err = EncodeKey(1, 1, math.MaxUint64, StrategyEmbedAsc)
	assert.NoError(t, err)
}

func TestDecodeKey_Malformed(t *testing.T) {
	_, _, err := DecodeKey(make([]byte, 15), StrategyEmbedDesc)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, 16, decErr.Want)
	assert.Equal(t, 15, decErr.Got)
	assert.Equal(t, "embed_desc/key/len=15", decErr.Class())

	_, _, err = DecodeKey(make([]byte, 16), StrategyUDT)
	assert.True(t, IsDecodeError(err))

	// An inverted suffix above MaxInt64 cannot come from EncodeKey.
	bad := append(RecordPrefix(1, 1), 0xff, 0, 0, 0, 0, 0, 0, 0)
	_, err = DecodeTimestampSuffix(bad, StrategyEmbedDesc)
	assert.True(t, IsDecodeError(err))

	_, err = DecodeTimestampSuffix(RecordPrefix(1, 1), StrategyUDT)
	assert.True(t, IsUnsupportedStrategyError(err))
}

func TestValueCodec(t *testing.T) {
	for _, rowID := range []int64{0, 1, -1, 100, math.MaxInt64, math.MinInt64} {
		enc := EncodeValue(rowID)
		require.Len(t, enc, ValueSize)
		got, err := DecodeValue(enc)
		require.NoError(t, err)
		assert.Equal(t, rowID, got)
	}

	_, err := DecodeValue([]byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.Contains(t, err.Error(), "expected 8 bytes, got 3")
}

func TestEncodeTimestamp(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 0}, EncodeTimestamp(256))
	assert.Len(t, EncodeTimestamp(0), TimestampSize)

	// Bytewise order follows numeric order.
	assert.Equal(t, -1, bytes.Compare(EncodeTimestamp(255), EncodeTimestamp(256)))
	assert.Equal(t, -1, bytes.Compare(EncodeTimestamp(1761139362806988525), EncodeTimestamp(1761139362806988526)))

	// The asc key suffix is exactly the encoded timestamp.
	k, err := EncodeKey(1, 2, 1761139362806988526, StrategyEmbedAsc)
	require.NoError(t, err)
	assert.Equal(t, EncodeTimestamp(1761139362806988526), k[PrefixSize:])
}

func TestStrategy_EmbedsTimestamp(t *testing.T) {
	testCases := []struct {
		strategy Strategy
		embeds   bool
	}{
		{StrategyEmbedAsc, true},
		{StrategyEmbedDesc, true},
		{StrategyUDT, false},
		{Strategy(9), false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.embeds, tc.strategy.EmbedsTimestamp(), "strategy %s", tc.strategy)
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range Strategies {
		parsed, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	parsed, err := ParseStrategy(" RETINA ")
	require.NoError(t, err)
	assert.Equal(t, StrategyEmbedAsc, parsed)

	_, err = ParseStrategy("mvcc")
	require.Error(t, err)
	assert.True(t, IsUnsupportedStrategyError(err))
	assert.False(t, Strategy(3).Valid())
}

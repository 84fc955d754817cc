package workload

import (
	"context"
	"errors"
	"fmt"

	"github.com/INLOpen/versionbench/core"
	"github.com/INLOpen/versionbench/store"
	"github.com/RoaringBitmap/roaring/roaring64"
)

// VerifyResult describes the logical content of a store after a run.
type VerifyResult struct {
	Records              uint64 `json:"records"`
	Versions             uint64 `json:"versions"`
	VersionsAt           uint64 `json:"versions_at_timestamp"`
	MaxVersionsPerRecord uint64 `json:"max_versions_per_record"`
	Missing              uint64 `json:"missing_records"`
	Unexpected           uint64 `json:"unexpected_records"`
	Malformed            uint64 `json:"malformed_entries"`
}

func (v *VerifyResult) String() string {
	return fmt.Sprintf("%d records, %d versions (%d at timestamp, max %d per record), %d missing, %d unexpected, %d malformed",
		v.Records, v.Versions, v.VersionsAt, v.MaxVersionsPerRecord, v.Missing, v.Unexpected, v.Malformed)
}

// Complete reports whether exactly the expected records exist and every
// entry decoded.
func (v *VerifyResult) Complete() bool {
	return v.Missing == 0 && v.Unexpected == 0 && v.Malformed == 0
}

func recordID(indexID, key int32) uint64 {
	return uint64(uint32(indexID))<<32 | uint64(uint32(key))
}

// Verify scans the whole store and counts logical records and their versions.
// Records expected are those of workers [0, threads) over keys [0, idRange).
// VersionsAt counts versions whose timestamp equals ts.
func Verify(ctx context.Context, st store.Store, threads int, idRange int32, ts core.Timestamp) (*VerifyResult, error) {
	s := st.Strategy()
	it, err := st.NewIterator(store.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	seen := roaring64.New()
	res := &VerifyResult{}
	var (
		current  uint64
		versions uint64
		n        int
	)
	for ok := it.SeekGE(nil); ok; ok = it.Next() {
		if n++; n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rk, versionTS, err := core.DecodeKey(it.Key(), s)
		if err != nil {
			if errors.Is(err, core.ErrTimestampOutOfRange) || core.IsDecodeError(err) {
				res.Malformed++
				continue
			}
			return nil, err
		}
		if s == core.StrategyUDT {
			versionTS = it.Timestamp()
		}
		res.Versions++
		if versionTS == ts {
			res.VersionsAt++
		}
		// Versions of a record are adjacent in key order.
		id := recordID(rk.IndexID, rk.Key)
		if versions == 0 || id != current {
			current = id
			versions = 0
			seen.Add(id)
		}
		versions++
		res.MaxVersionsPerRecord = max(res.MaxVersionsPerRecord, versions)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	expected := roaring64.New()
	for t := 0; t < threads; t++ {
		base := recordID(int32(t), 0)
		expected.AddRange(base, base+uint64(idRange))
	}
	res.Records = seen.GetCardinality()
	res.Missing = roaring64.AndNot(expected, seen).GetCardinality()
	res.Unexpected = roaring64.AndNot(seen, expected).GetCardinality()
	return res, nil
}

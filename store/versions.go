package store

import (
	"github.com/INLOpen/versionbench/core"
)

// PutVersion writes rowID as the version of (indexID, key) at ts using the
// strategy the store was opened with.
func PutVersion(st Store, indexID, key int32, ts core.Timestamp, rowID int64) error {
	s := st.Strategy()
	k, err := core.EncodeKey(indexID, key, ts, s)
	if err != nil {
		return err
	}
	if s.EmbedsTimestamp() {
		return st.Put(k, core.EncodeValue(rowID))
	}
	return st.PutAt(k, ts, core.EncodeValue(rowID))
}

package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHash(t *testing.T) {
	var want Hash
	want[0], want[31] = 0xab, 0x01
	s := want.String()

	h, err := ParseHash(s)
	require.NoError(t, err)
	require.Equal(t, want, h)

	_, err = ParseHash(s[:len(s)-2])
	require.Error(t, err)
	_, err = ParseHash("0xzz")
	require.Error(t, err)

	bare, err := ParseHash(s[2:])
	require.NoError(t, err)
	require.Equal(t, want, bare)
}

func TestKeysAsMapKeysInJSON(t *testing.T) {
	in := map[FileKey]BlockNumber{{1}: 4, {2}: 7}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out map[FileKey]BlockNumber
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, in, out)
}

func TestScopeJSON(t *testing.T) {
	for _, s := range []ProviderScope{
		BucketScope(ProviderID{1}, BucketID{2}),
		BspScope(ProviderID{3}),
	} {
		b, err := json.Marshal(s)
		require.NoError(t, err)

		var back ProviderScope
		require.NoError(t, json.Unmarshal(b, &back))
		require.Equal(t, s, back)
		require.NoError(t, back.Validate())
	}

	var s ProviderScope
	require.Error(t, json.Unmarshal([]byte(`{"Kind":"bucket","Provider":"`+ProviderID{1}.String()+`"}`), &s))
	require.Error(t, json.Unmarshal([]byte(`{"Kind":"msp"}`), &s))
}

func TestScopeIDs(t *testing.T) {
	bucket := BucketScope(ProviderID{1}, BucketID{2})
	require.Nil(t, bucket.BspID())
	require.Equal(t, ProviderID{1}, *bucket.MspID())

	bsp := BspScope(ProviderID{3})
	require.Nil(t, bsp.MspID())
	require.Equal(t, ProviderID{3}, *bsp.BspID())

	require.Error(t, ProviderScope{Kind: ScopeBucket, Provider: ProviderID{1}}.Validate())
	require.Error(t, ProviderScope{Kind: ScopeBsp, Bucket: BucketID{1}}.Validate())
	require.Error(t, ProviderScope{}.Validate())
}

func TestDeletionType(t *testing.T) {
	require.Equal(t, DeletionIncomplete, DeletionUser.Next())
	require.Equal(t, DeletionUser, DeletionIncomplete.Next())

	for _, typ := range []DeletionType{DeletionUser, DeletionIncomplete} {
		parsed, err := ParseDeletionType(typ.String())
		require.NoError(t, err)
		require.Equal(t, typ, parsed)
	}
	_, err := ParseDeletionType("bucket")
	require.Error(t, err)
}

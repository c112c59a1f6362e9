package record_test

import (
	"testing"

	"github.com/ndungu/logbroker/internal/brokererr"
	"github.com/ndungu/logbroker/internal/record"
	"github.com/stretchr/testify/require"
)

// TestSerializeDeserializeRoundTrip exercises Serialize/Deserialize.
//
// It builds a record with a known payload, serializes it, deserializes the
// result with an arbitrary assigned offset, and verifies the payload and
// timestamp survive the round trip and that the frame length matches
// HeaderSize+len(data).
func TestSerializeDeserializeRoundTrip(t *testing.T) {
	r := record.Record{Timestamp: 1234, Data: []byte("hello world")}

	buf := record.Serialize(r)
	require.Len(t, buf, record.HeaderSize+len(r.Data))

	got, err := record.Deserialize(buf, 42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), got.Offset)
	require.Equal(t, r.Timestamp, got.Timestamp)
	require.Equal(t, r.Data, got.Data)
	require.True(t, record.IsValid(got))
}

func TestSerializeComputesChecksumWhenZero(t *testing.T) {
	r := record.Record{Data: []byte("payload")}
	buf := record.Serialize(r)

	got, err := record.Deserialize(buf, 0)
	require.NoError(t, err)
	require.NotZero(t, got.Checksum)
}

func TestDeserializeDetectsCorruption(t *testing.T) {
	r := record.Record{Data: []byte("intact")}
	buf := record.Serialize(r)

	// Flip a data byte without touching the stored checksum.
	buf[len(buf)-1] ^= 0xFF

	_, err := record.Deserialize(buf, 0)
	require.Error(t, err)

	kind, ok := brokererr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, brokererr.KindCorrupt, kind)
}

func TestDeserializeRejectsTruncatedFrame(t *testing.T) {
	r := record.Record{Data: []byte("full payload")}
	buf := record.Serialize(r)

	_, err := record.Deserialize(buf[:len(buf)-3], 0)
	require.Error(t, err)

	kind, ok := brokererr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, brokererr.KindCorrupt, kind)
}

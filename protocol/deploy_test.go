package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLengthPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func TestBulkBodyMalformedHeaderEntry(t *testing.T) {
	// One well-formed entry and one missing its "::" separator. The
	// malformed entry is skipped; the batch still decodes.
	body := &bytes.Buffer{}
	writeLengthPrefixed(body, []byte("domainA@123"))
	writeLengthPrefixed(body, []byte("a/B.class::4;;whoops;;"))
	body.Write([]byte{1, 2, 3, 4})

	var req LocalDeployRequest
	require.NoError(t, req.UnmarshalBody(body.Bytes()))

	assert.Equal(t, "domainA@123", req.Identity)
	require.Len(t, req.Contents, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, req.Contents["a/B.class"])
}

func TestBulkBodyNonNumericLength(t *testing.T) {
	body := &bytes.Buffer{}
	writeLengthPrefixed(body, []byte("domainA@123"))
	writeLengthPrefixed(body, []byte("a/B.class::oops;;c/D.class::2;;"))
	body.Write([]byte{9, 9})

	var req LocalDeployRequest
	require.NoError(t, req.UnmarshalBody(body.Bytes()))

	require.Len(t, req.Contents, 1)
	assert.Equal(t, []byte{9, 9}, req.Contents["c/D.class"])
}

func TestBulkBodyTruncatedIdentity(t *testing.T) {
	body := &bytes.Buffer{}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 100)
	body.Write(lenBuf[:])
	body.WriteString("short")

	var req LocalDeployRequest
	require.Error(t, req.UnmarshalBody(body.Bytes()))
}

func TestBulkBodyTruncatedContent(t *testing.T) {
	body := &bytes.Buffer{}
	writeLengthPrefixed(body, []byte("domainA@123"))
	writeLengthPrefixed(body, []byte("a/B.class::10;;"))
	body.Write([]byte{1, 2, 3})

	var req LocalDeployRequest
	require.Error(t, req.UnmarshalBody(body.Bytes()))
}

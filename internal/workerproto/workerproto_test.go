package workerproto

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRequestThenReadRequestRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, 1, MethodInsert, map[string]interface{}{"name": "x", "value": "1"}))

	scanner := bufio.NewScanner(&buf)
	req, err := ReadRequest(scanner)
	require.NoError(t, err)

	assert.Equal(t, Version, req.JSONRPC)
	assert.Equal(t, 1, req.ID)
	assert.Equal(t, MethodInsert, req.Method)
	assert.Equal(t, "x", req.Params["name"])
}

func TestWriteResponseThenReadResponseRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, 1, map[string]interface{}{"status": "inserted", "id": 1}, ""))

	scanner := bufio.NewScanner(&buf)
	resp, err := ReadResponse(scanner)
	require.NoError(t, err)

	assert.False(t, resp.IsError())
	assert.Equal(t, 1, resp.ID)
}

func TestReadResponseErrorShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, 2, nil, "boom"))

	scanner := bufio.NewScanner(&buf)
	resp, err := ReadResponse(scanner)
	require.NoError(t, err)

	assert.True(t, resp.IsError())
	assert.Equal(t, "boom", resp.Error)
}

func TestReadResponseOnEmptyStreamReturnsEOF(t *testing.T) {
	scanner := bufio.NewScanner(bytes.NewReader(nil))
	_, err := ReadResponse(scanner)
	assert.ErrorIs(t, err, io.EOF)
}

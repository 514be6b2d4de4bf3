package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWindow_Hex(t *testing.T) {
	window, err := readWindow(nil, "16 03 01 00 2f")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x16, 0x03, 0x01, 0x00, 0x2F}, window)

	_, err = readWindow(nil, "zz")
	require.Error(t, err)
}

func TestWriteReport_Formats(t *testing.T) {
	report := detectReport{
		Protocol:   "http/1.1",
		Display:    "HTTP/1.1",
		Confidence: 0.98,
		Method:     "magic-byte",
		Probe:      "magic",
		Features:   map[string]string{"method": "GET"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, report, "json"))
	assert.Contains(t, buf.String(), `"protocol": "http/1.1"`)

	buf.Reset()
	require.NoError(t, writeReport(&buf, report, "yaml"))
	assert.Contains(t, buf.String(), "protocol: http/1.1")

	buf.Reset()
	require.NoError(t, writeReport(&buf, report, "text"))
	assert.True(t, strings.Contains(buf.String(), "HTTP/1.1"))
	assert.Contains(t, buf.String(), "method: GET")

	require.Error(t, writeReport(&buf, report, "csv"))
}

func TestDetectCommand_EndToEnd(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"detect", "--hex", "474554202f20485454502f312e310d0a486f73743a20780d0a0d0a", "-o", "json"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"protocol": "http/1.1"`)
}

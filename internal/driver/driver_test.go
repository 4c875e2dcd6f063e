package driver

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRQ is a small test harness around Run with a fresh, isolated schema
// registry directory per call, so tests never touch the real
// ~/.config/record-query registry.
func runRQ(t *testing.T, stdin string, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	args = append(args, "-registry", filepath.Join(t.TempDir(), "schemas"))

	var out, errBuf bytes.Buffer
	code = Run(args, bytes.NewBufferString(stdin), &out, &errBuf)
	return out.String(), errBuf.String(), code
}

func TestSelectField(t *testing.T) {
	out, _, code := runRQ(t, "{\"a\":1,\"b\":2}\n{\"a\":3,\"b\":4}\n", "-i", "json", "-q", "select(a)")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "1\n3\n", out)
}

func TestExplodeFilter(t *testing.T) {
	out, _, code := runRQ(t, "[1,2,3,4,5]\n", "-i", "json", "-q", "explode | filter(. > 2)")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "3\n4\n5\n", out)
}

func TestMapSum(t *testing.T) {
	out, _, code := runRQ(t, "{\"x\":1}\n{\"x\":2}\n{\"x\":3}\n", "-i", "json", "-q", "map(x * 10) | sum")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "60\n", out)
}

func TestCSVToJSONIdentity(t *testing.T) {
	out, _, code := runRQ(t, "name,age\nAda,36\nGrace,85\n", "-i", "csv")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "{\"name\":\"Ada\",\"age\":\"36\"}\n{\"name\":\"Grace\",\"age\":\"85\"}\n", out)
}

func TestSortDescending(t *testing.T) {
	out, _, code := runRQ(t, "{\"a\":1}\n{\"a\":2}\n{\"a\":3}\n", "-i", "json", "-q", "sort(-a)")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "{\"a\":3}\n{\"a\":2}\n{\"a\":1}\n", out)
}

func TestUnknownOperatorIsUsageError(t *testing.T) {
	_, stderr, code := runRQ(t, "{}\n", "-i", "json", "-q", "bogus")
	assert.Equal(t, ExitUsageError, code)
	assert.Contains(t, stderr, "bogus")
}

func TestMissingInputFormatIsUsageError(t *testing.T) {
	_, stderr, code := runRQ(t, "{}\n", "-q", "id")
	assert.Equal(t, ExitUsageError, code)
	assert.Contains(t, stderr, "input format")
}

func TestUnknownInputFormatIsUsageError(t *testing.T) {
	_, _, code := runRQ(t, "{}\n", "-i", "does-not-exist")
	assert.Equal(t, ExitUsageError, code)
}

func TestMalformedInputIsStreamError(t *testing.T) {
	_, _, code := runRQ(t, "{not valid json", "-i", "json")
	assert.Equal(t, ExitStreamError, code)
}

func TestLimitEarlyTermination(t *testing.T) {
	out, _, code := runRQ(t, "1\n2\n3\n4\n5\n", "-i", "json", "-q", "limit(2)")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "1\n2\n", out)
}

func TestProtobufSchemaAddAndList(t *testing.T) {
	dir := t.TempDir()
	protoPath := filepath.Join(dir, "sample.proto")
	proto := `syntax = "proto3";
package sample;

message Greeting {
  string text = 1;
}
`
	require.NoError(t, os.WriteFile(protoPath, []byte(proto), 0o640))

	registryDir := filepath.Join(t.TempDir(), "schemas")
	var out, errBuf bytes.Buffer
	code := Run([]string{"protobuf", "-registry", registryDir, "add", protoPath}, nil, &out, &errBuf)
	require.Equal(t, ExitSuccess, code, errBuf.String())

	out.Reset()
	errBuf.Reset()
	code = Run([]string{"protobuf", "-registry", registryDir, "list"}, nil, &out, &errBuf)
	require.Equal(t, ExitSuccess, code, errBuf.String())
	assert.Contains(t, out.String(), "sample.Greeting")
}


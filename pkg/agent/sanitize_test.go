package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeBase64BoundaryPreservedAt199(t *testing.T) {
	payload := "data:image/png;base64," + strings.Repeat("A", 199)
	out := Sanitize(payload, 10000)
	require.Equal(t, payload, out)
}

func TestSanitizeBase64RedactedAt200(t *testing.T) {
	payload := "data:image/png;base64," + strings.Repeat("A", 200)
	out := Sanitize(payload, 10000)
	require.Contains(t, out, "[base64 data removed")
	require.NotContains(t, out, strings.Repeat("A", 200))
}

func TestSanitizeHexBoundaryPreservedAt199(t *testing.T) {
	payload := strings.Repeat("a", 199)
	out := Sanitize(payload, 10000)
	require.Equal(t, payload, out)
}

func TestSanitizeHexRedactedAt200(t *testing.T) {
	payload := strings.Repeat("a", 200)
	out := Sanitize(payload, 10000)
	require.Contains(t, out, "[hex data removed")
}

func TestSanitizeOrderingBase64BeforeHex(t *testing.T) {
	payload := "data:image/png;base64," + strings.Repeat("f", 200)
	out := Sanitize(payload, 10000)
	require.Contains(t, out, "[base64 data removed")
	require.NotContains(t, out, "[hex data removed")
}

func TestSanitizeTruncationMarksOriginalLength(t *testing.T) {
	s := strings.Repeat("x", 50)
	out := Sanitize(s, 10)
	require.Contains(t, out, "[truncated — 50 bytes total]")
}

func TestSanitizeTruncationRespectsRuneBoundary(t *testing.T) {
	s := strings.Repeat("x", 9) + "é" // é is 2 bytes, straddles a 10-byte cut
	out := Sanitize(s, 10)
	require.True(t, strings.HasPrefix(out, strings.Repeat("x", 9)))
	require.False(t, strings.Contains(out[:9], "�"))
}

func TestSanitizeIdempotent(t *testing.T) {
	s := strings.Repeat("hello world ", 50)
	once := Sanitize(s, 100)
	twice := Sanitize(once, 100)
	require.Equal(t, once, twice)
}

func TestSanitizeUnderLimitUnchanged(t *testing.T) {
	s := "short message"
	require.Equal(t, s, Sanitize(s, 100))
}

package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContent_Deterministic(t *testing.T) {
	a := Content("hello world")
	b := Content("hello world")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestContent_NormalizesLineEndings(t *testing.T) {
	unix := Content("line one\nline two\n")
	windows := Content("line one\r\nline two\r\n")
	mac := Content("line one\rline two\r")
	assert.Equal(t, unix, windows)
	assert.Equal(t, unix, mac)
}

func TestContent_IgnoresSurroundingWhitespace(t *testing.T) {
	assert.Equal(t, Content("body"), Content("  \n\nbody \t\n"))
}

func TestContent_DetectsRealChanges(t *testing.T) {
	assert.NotEqual(t, Content("version one"), Content("version two"))
}

func TestNormalize_TrimsTrailingPerLine(t *testing.T) {
	assert.Equal(t, "a\nb", Normalize("a  \nb\t"))
}

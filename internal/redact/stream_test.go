package redact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func pushAll(s *Restorer, chunks ...string) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(s.Push(c))
	}
	b.WriteString(s.Flush())
	return b.String()
}

func TestRestorer_TokenSplitAcrossChunks(t *testing.T) {
	res := Result{Mapping: map[string]string{"[EMAIL_ADDRESS_1]": "a@b.io", "[PERSON_1]": "Ann"}}
	s := res.Restorer()

	assert.Equal(t, "Write to ", s.Push("Write to [EMA"))
	assert.Equal(t, "", s.Push("IL_ADD"))
	assert.Equal(t, "a@b.io, cc ", s.Push("RESS_1], cc ["))
	assert.Equal(t, "Ann.", s.Push("PERSON_1]."))
	assert.Equal(t, "", s.Flush())
}

func TestRestorer_EveryByteBoundary(t *testing.T) {
	res := Result{Mapping: map[string]string{"[US_SSN_1]": "123-45-6789"}}
	reply := "Your SSN [US_SSN_1] is on file [x] and [US_SSN_1]."
	want := "Your SSN 123-45-6789 is on file [x] and 123-45-6789."

	for i := 0; i <= len(reply); i++ {
		assert.Equal(t, want, pushAll(res.Restorer(), reply[:i], reply[i:]), "split at %d", i)
	}
}

func TestRestorer_UnclosedBracketReleasedAtFlush(t *testing.T) {
	res := Result{Mapping: map[string]string{"[PERSON_1]": "Ann"}}
	s := res.Restorer()

	assert.Equal(t, "array ", s.Push("array [1, 2"))
	assert.Equal(t, "[1, 2", s.Flush())
}

func TestRestorer_LongUnclosedTailNotHeld(t *testing.T) {
	res := Result{Mapping: map[string]string{"[PERSON_1]": "Ann"}}
	long := "[" + strings.Repeat("a", maxHeldBack)

	assert.Equal(t, long, res.Restorer().Push(long))
}

func TestRestorer_NoMappingPassesThrough(t *testing.T) {
	s := Result{}.Restorer()
	assert.Equal(t, "[PERS", s.Push("[PERS"))
	assert.Equal(t, "", s.Flush())
}

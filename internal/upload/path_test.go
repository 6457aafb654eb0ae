package upload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	dErrors "audiovault/pkg/domain-errors"
)

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"audio.mp3":              "audio.mp3",
		"my recording (1).wav":   "my_recording__1_.wav",
		"../../etc/passwd.mp3":   "passwd.mp3",
		`C:\Users\me\memo.m4a`:   "memo.m4a",
		"ünïcode.ogg":            "_n_code.ogg",
		"":                       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Sanitize(in), in)
	}
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "audio_files/user-1_20250102_030405_audio.mp3", ObjectKey("user-1", at, "audio.mp3"))
	assert.Equal(t, "audio_files/anonymous_20250102_030405_audio.mp3", ObjectKey("", at, "audio.mp3"))
	assert.Equal(t, "audio_files/a_b_20250102_030405_x.wav", ObjectKey("a b", at, "dir/x.wav"))
}

func TestDerivedPathIsDeterministic(t *testing.T) {
	assert.Equal(t, DerivedPath("u1", "audio.mp3"), DerivedPath("u1", "audio.mp3"))
	assert.Equal(t, "audio_files/u1_audio.mp3", DerivedPath("u1", "audio.mp3"))
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath("audio_files/u1_audio.mp3"))
	for _, p := range []string{"other/x.mp3", "audio_files/", "audio_files/../secret", `audio_files\x`} {
		err := ValidatePath(p)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), p)
	}
}

func TestContentTypeFor(t *testing.T) {
	for name, want := range map[string]string{
		"a.mp3":  "audio/mpeg",
		"a.WAV":  "audio/wav",
		"a.ogg":  "audio/ogg",
		"a.m4a":  "audio/mp4",
		"a.aiff": "audio/aiff",
	} {
		got, err := ContentTypeFor(name)
		assert.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	_, err := ContentTypeFor("a.txt")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	_, err = ContentTypeFor("noext")
	assert.Error(t, err)
}

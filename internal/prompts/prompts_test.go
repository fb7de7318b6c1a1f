package prompts

import (
	"strings"
	"testing"

	"github.com/bobarin/listingreels/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestResolveExplicitOverride(t *testing.T) {
	clip := &models.VideoClip{RoomType: "kitchen", MotionPrompt: models.StrPtr("  Orbit the island slowly  ")}
	assert.Equal(t, "Orbit the island slowly", Resolve(clip, "", false, nil))
}

func TestResolveFromRoomType(t *testing.T) {
	clip := &models.VideoClip{RoomType: "Living Room"}
	assert.Equal(t, roomMotions["living_room"], Resolve(clip, "", false, nil))

	unknown := &models.VideoClip{RoomType: "wine_cellar"}
	assert.Equal(t, fallbackMotion, Resolve(unknown, "", false, nil))
}

func TestResolveLabelPrecedence(t *testing.T) {
	clip := &models.VideoClip{RoomType: "bedroom", RoomLabel: models.StrPtr("Primary Suite")}
	assert.True(t, strings.HasPrefix(Resolve(clip, "", false, nil), "Primary Suite: "))
	assert.True(t, strings.HasPrefix(Resolve(clip, "Guest Room", false, nil), "Guest Room: "))
}

func TestResolveAudioWithTrack(t *testing.T) {
	clip := &models.VideoClip{RoomType: "pool"}
	track := &models.MusicTrack{Mood: "uplifting", Category: "acoustic", Name: "Summer Days"}

	prompt := Resolve(clip, "", true, track)
	assert.Contains(t, prompt, roomMotions["pool"])
	assert.Contains(t, prompt, `Audio: uplifting acoustic music in the style of "Summer Days"`)
	assert.Contains(t, prompt, "Ambient sound: gentle lapping water.")
}

func TestResolveAudioFallback(t *testing.T) {
	clip := &models.VideoClip{RoomType: "kitchen", RoomLabel: models.StrPtr("Chef's Kitchen")}

	prompt := Resolve(clip, "", true, nil)
	assert.Contains(t, prompt, "subtle ambient background sound")
	assert.Contains(t, prompt, "Ambient sound of the chef's kitchen: a quiet kitchen hum.")
}

func TestResolveAudioAppliesToOverride(t *testing.T) {
	clip := &models.VideoClip{RoomType: "garage", MotionPrompt: models.StrPtr("Pull back")}
	prompt := Resolve(clip, "", true, &models.MusicTrack{Mood: "calm"})
	assert.True(t, strings.HasPrefix(prompt, "Pull back Audio: calm music, no dialogue"))
}

// Package prompts turns clip metadata into the motion prompt sent to a provider.
package prompts

import (
	"fmt"
	"strings"

	"github.com/bobarin/listingreels/internal/models"
)

// DefaultNegativePrompt suppresses the artifacts that make property footage
// look fake.
const DefaultNegativePrompt = "blur, distortion, warped walls, bent lines, flickering, people, text, watermark, low quality"

const fallbackMotion = "Smooth, slow cinematic camera push-in revealing the space. Steady movement, natural lighting, photorealistic real estate footage."

// roomMotions maps the upstream room type tags to camera moves.
var roomMotions = map[string]string{
	"exterior":     "Slow cinematic drone-style glide toward the front of the property, gentle parallax on landscaping, soft daylight.",
	"front_yard":   "Slow low-angle dolly along the front yard toward the entrance, grass and plants swaying lightly.",
	"backyard":     "Gentle lateral tracking shot across the backyard, subtle movement in trees and foliage.",
	"living_room":  "Slow dolly forward through the living room, subtle parallax between furniture, warm natural light from the windows.",
	"kitchen":      "Smooth lateral slide along the kitchen counters, light glinting on surfaces, steady and level.",
	"dining_room":  "Slow orbit around the dining table, soft ambient light, steady framing.",
	"bedroom":      "Gentle push-in toward the bed, soft morning light through the curtains, calm and steady.",
	"bathroom":     "Slow tilt and push toward the vanity, clean reflections, bright even lighting.",
	"office":       "Slow pan across the home office toward the window, steady and level.",
	"hallway":      "Steady forward glide down the hallway, symmetrical framing, even lighting.",
	"pool":         "Slow glide along the pool edge, gentle ripples on the water surface, bright sunlight.",
	"garage":       "Slow pull-back revealing the garage space, even lighting.",
	"balcony":      "Slow push toward the balcony railing revealing the view, light breeze.",
	"view":         "Slow panoramic pan across the view, gentle atmospheric haze.",
	"laundry_room": "Slow lateral slide across the laundry room, bright even lighting.",
}

// ambientSounds keys off the same tags as roomMotions.
var ambientSounds = map[string]string{
	"exterior":    "birdsong and a light breeze",
	"front_yard":  "birdsong and rustling leaves",
	"backyard":    "birdsong and rustling leaves",
	"kitchen":     "a quiet kitchen hum",
	"bathroom":    "soft running water",
	"pool":        "gentle lapping water",
	"balcony":     "a light breeze and distant city ambience",
	"view":        "wind and distant ambience",
	"living_room": "a calm, quiet room tone",
	"bedroom":     "a calm, quiet room tone",
}

// Resolve returns the motion prompt for clip. An explicit MotionPrompt wins;
// otherwise the prompt is derived from the room type, with label overriding
// the stored room label. When audio is requested an audio clause is appended
// in both cases.
func Resolve(clip *models.VideoClip, label string, audio bool, track *models.MusicTrack) string {
	if label == "" && clip.RoomLabel != nil {
		label = *clip.RoomLabel
	}

	var prompt string
	if clip.MotionPrompt != nil && strings.TrimSpace(*clip.MotionPrompt) != "" {
		prompt = strings.TrimSpace(*clip.MotionPrompt)
	} else {
		prompt = motionFor(clip.RoomType, label)
	}

	if !audio {
		return prompt
	}
	return prompt + " " + audioClause(track) + " " + ambientClause(clip.RoomType, label)
}

func motionFor(roomType, label string) string {
	motion, ok := roomMotions[normalize(roomType)]
	if !ok {
		motion = fallbackMotion
	}
	if label != "" {
		return fmt.Sprintf("%s: %s", label, motion)
	}
	return motion
}

func audioClause(track *models.MusicTrack) string {
	if track == nil {
		return "Audio: subtle ambient background sound, no dialogue, no voiceover."
	}

	var parts []string
	if track.Mood != "" {
		parts = append(parts, track.Mood)
	}
	if track.Category != "" {
		parts = append(parts, track.Category)
	}
	desc := strings.Join(parts, " ")
	if desc == "" {
		desc = "background"
	}
	if track.Name != "" {
		return fmt.Sprintf("Audio: %s music in the style of %q, no dialogue, no voiceover.", desc, track.Name)
	}
	return fmt.Sprintf("Audio: %s music, no dialogue, no voiceover.", desc)
}

func ambientClause(roomType, label string) string {
	sound, ok := ambientSounds[normalize(roomType)]
	if !ok {
		sound = "a soft, natural room tone"
	}
	if label != "" {
		return fmt.Sprintf("Ambient sound of the %s: %s.", strings.ToLower(label), sound)
	}
	return fmt.Sprintf("Ambient sound: %s.", sound)
}

func normalize(roomType string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(roomType)), " ", "_")
}

package text

import (
	"fmt"
	"strings"
)

// Emotion presets. Any other value is treated as a preset and phrased the same way.
const (
	EmotionNone      = "None"
	EmotionCustom    = "Custom"
	EmotionHappy     = "Happy"
	EmotionSad       = "Sad"
	EmotionAngry     = "Angry"
	EmotionDisgusted = "Disgusted"
	EmotionArrogant  = "Arrogant"
)

const (
	customPromptFormat = "[%s,] %s"
	presetPromptFormat = "[I am really %s,] %s"
)

// Emotions lists the selectable emotions in display order.
var Emotions = []string{
	EmotionNone, EmotionHappy, EmotionSad, EmotionAngry,
	EmotionDisgusted, EmotionArrogant, EmotionCustom,
}

// EmotionPrompt prefixes a line with the cue the engine reads as an emotion.
// A custom emotion uses the caller's prompt; a blank custom prompt and the
// None emotion leave the line unchanged.
func EmotionPrompt(emotion, prompt, line string) string {
	switch emotion {
	case "", EmotionNone:
		return line
	case EmotionCustom:
		if strings.TrimSpace(prompt) == "" {
			return line
		}

		return fmt.Sprintf(customPromptFormat, prompt, line)
	default:
		return fmt.Sprintf(presetPromptFormat, strings.ToLower(emotion), line)
	}
}

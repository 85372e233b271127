package gateway

import (
	"fmt"
	"strings"

	"storybot/internal/types"
	"storybot/internal/wizard"
)

const narrativeInstruction = "You are writing a story together with a person. " +
	"You take turns: the person writes a part and you continue it. " +
	"Where it fits, add dialogue between the characters. " +
	"Start every line of dialogue on a new line with a dash. " +
	"Do not write any explanatory text, just continue the story logically."

const noMetaInstruction = "Do not give the user any hints about what to do next. They know."

// Cues appended to the most recent user message on the outbound copy.
const (
	ContinueCue = "Continue the story in 1-3 sentences and leave room for the user to continue it."
	EndCue      = "Write the ending of the story in a few sentences. Do not ask the user anything."
)

// EndOfStoryMarker replaces user text on the turn that closes a story.
const EndOfStoryMarker = "Let's finish the story."

// SystemPrompt builds the opening instruction of a session from d.
// settingDescription, when set, follows the setting name.
func SystemPrompt(d wizard.Draft, settingDescription string) string {
	setting := d.Setting
	if settingDescription != "" {
		setting += ": " + strings.TrimRight(settingDescription, ".")
	}

	var b strings.Builder
	b.WriteString(narrativeInstruction)
	fmt.Fprintf(&b, "\nWrite the opening of a story in the style %s with the protagonist %s. "+
		"The initial setting: \n%s. \nThe opening must be short, 1-3 sentences.\n",
		d.Genre, d.Character, setting)
	if d.AdditionalInfo != "" {
		fmt.Fprintf(&b, "The user also asked to take into account the following: %s\n", d.AdditionalInfo)
	}
	b.WriteString(noMetaInstruction)
	return b.String()
}

func cue(mode types.Mode) string {
	if mode == types.ModeEnd {
		return EndCue
	}
	return ContinueCue
}

// Messages copies history into backend messages and appends the mode cue
// to the most recent user message only. history is not modified.
func Messages(history []types.Turn, mode types.Mode) []types.Message {
	msgs := types.Messages(history)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			msgs[i].Content += "\n" + cue(mode)
			break
		}
	}
	return msgs
}

// Package wizard implements the registration dialogue that collects a
// story's genre, character, setting and optional extra details.
package wizard

import (
	"errors"
	"strings"

	"storybot/internal/logging"
)

// State is a user's position in the registration and story lifecycle.
type State int

const (
	Unregistered State = iota
	AwaitingGenre
	AwaitingCharacter
	AwaitingSetting
	AwaitingExtraInfo
	ReadyToBegin
	InStory
	Ended
)

var stateNames = map[State]string{
	Unregistered:      "unregistered",
	AwaitingGenre:     "awaiting_genre",
	AwaitingCharacter: "awaiting_character",
	AwaitingSetting:   "awaiting_setting",
	AwaitingExtraInfo: "awaiting_extra_info",
	ReadyToBegin:      "ready_to_begin",
	InStory:           "in_story",
	Ended:             "ended",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

var (
	// ErrRegistrationIncomplete is returned by Begin before genre,
	// character and setting are all chosen.
	ErrRegistrationIncomplete = errors.New("registration is not complete")

	// ErrNotInStory is returned by End outside a running story.
	ErrNotInStory = errors.New("no story in progress")
)

// Draft holds the registration answers. AdditionalInfo is optional.
type Draft struct {
	Genre          string
	Character      string
	Setting        string
	AdditionalInfo string
}

// Complete reports whether the draft can produce a system prompt.
func (d Draft) Complete() bool {
	return d.Genre != "" && d.Character != "" && d.Setting != ""
}

// Prompt is what to tell the user next, with any choices to offer.
type Prompt struct {
	Text    string
	Choices []string
}

// Step is the result of feeding one text input to the wizard.
type Step struct {
	Next     State
	Prompt   Prompt
	Accepted bool
}

type stepFunc func(w *Wizard, d *Draft, input string) Step

// Wizard drives registration over a catalog. It keeps no per-user state;
// callers own the State and Draft.
type Wizard struct {
	catalog Catalog
	steps   map[State]stepFunc
}

// New creates a wizard over catalog.
func New(catalog Catalog) *Wizard {
	return &Wizard{
		catalog: catalog,
		steps: map[State]stepFunc{
			Unregistered:      (*Wizard).remindNewStory,
			AwaitingGenre:     (*Wizard).chooseGenre,
			AwaitingCharacter: (*Wizard).chooseCharacter,
			AwaitingSetting:   (*Wizard).chooseSetting,
			AwaitingExtraInfo: (*Wizard).extraInfo,
			ReadyToBegin:      (*Wizard).remindBegin,
			Ended:             (*Wizard).remindEnded,
		},
	}
}

// Catalog returns the wizard's catalog.
func (w *Wizard) Catalog() Catalog {
	return w.catalog
}

// Start discards d and asks for a genre.
func (w *Wizard) Start(d *Draft) Step {
	*d = Draft{}
	return Step{Next: AwaitingGenre, Prompt: w.genrePrompt("Pick the genre of your story:"), Accepted: true}
}

// Input feeds free text to the wizard. ok is false when state takes no
// wizard input (a running story).
func (w *Wizard) Input(state State, d *Draft, text string) (step Step, ok bool) {
	fn, ok := w.steps[state]
	if !ok {
		return Step{Next: state}, false
	}
	step = fn(w, d, strings.TrimSpace(text))
	if step.Next != state {
		logging.Get(logging.CategoryWizard).Debug("wizard %s -> %s", state, step.Next)
	}
	return step, true
}

// Begin moves a registered user into a new story.
func (w *Wizard) Begin(state State, d Draft) (State, error) {
	switch state {
	case AwaitingExtraInfo, ReadyToBegin, InStory, Ended:
		if d.Complete() {
			return InStory, nil
		}
	}
	return state, ErrRegistrationIncomplete
}

// End closes a running story.
func (w *Wizard) End(state State) (State, error) {
	if state != InStory {
		return state, ErrNotInStory
	}
	return Ended, nil
}

func (w *Wizard) chooseGenre(d *Draft, input string) Step {
	if !contains(w.catalog.Genres, input) {
		return Step{Next: AwaitingGenre, Prompt: w.genrePrompt("Pick one of the offered genres:")}
	}
	d.Genre = input
	return Step{
		Next:     AwaitingCharacter,
		Prompt:   Prompt{Text: "Pick the main character:", Choices: w.catalog.Characters},
		Accepted: true,
	}
}

func (w *Wizard) chooseCharacter(d *Draft, input string) Step {
	if !contains(w.catalog.Characters, input) {
		return Step{
			Next:   AwaitingCharacter,
			Prompt: Prompt{Text: "Pick one of the offered characters:", Choices: w.catalog.Characters},
		}
	}
	d.Character = input
	return Step{Next: AwaitingSetting, Prompt: w.settingPrompt("Pick the setting:"), Accepted: true}
}

func (w *Wizard) chooseSetting(d *Draft, input string) Step {
	if !contains(w.catalog.SettingNames(), input) {
		return Step{Next: AwaitingSetting, Prompt: w.settingPrompt("Pick one of the offered settings:")}
	}
	d.Setting = input
	return Step{
		Next: AwaitingExtraInfo,
		Prompt: Prompt{Text: "If the story should take anything else into account, write it now. " +
			"Or send /begin to start right away."},
		Accepted: true,
	}
}

func (w *Wizard) extraInfo(d *Draft, input string) Step {
	if input == "" {
		return Step{Next: AwaitingExtraInfo, Prompt: Prompt{Text: "Write the extra details, or send /begin to start."}}
	}
	d.AdditionalInfo = input
	return Step{
		Next:     ReadyToBegin,
		Prompt:   Prompt{Text: "Thanks, noted! Send /begin to start the story."},
		Accepted: true,
	}
}

func (w *Wizard) remindNewStory(*Draft, string) Step {
	return Step{Next: Unregistered, Prompt: Prompt{Text: "To write a story, answer a few questions first. Send /new_story to start."}}
}

func (w *Wizard) remindBegin(*Draft, string) Step {
	return Step{Next: ReadyToBegin, Prompt: Prompt{Text: "Everything is ready. Send /begin to start the story."}}
}

func (w *Wizard) remindEnded(*Draft, string) Step {
	return Step{Next: Ended, Prompt: Prompt{Text: "This story is over. Send /new_story to start a new one or /whole_story to read it."}}
}

func (w *Wizard) genrePrompt(text string) Prompt {
	return Prompt{Text: text, Choices: w.catalog.Genres}
}

func (w *Wizard) settingPrompt(text string) Prompt {
	return Prompt{Text: text + "\n" + w.catalog.settingList(), Choices: w.catalog.SettingNames()}
}

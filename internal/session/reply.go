package session

// Outcome classifies a reply for the transport.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeRejected covers invalid input and commands issued out of order.
	OutcomeRejected
	OutcomeSessionLimit
	OutcomeTokenLimit
	OutcomeBackendError
	OutcomeEmptyCompletion
	OutcomeStorageError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRejected:
		return "rejected"
	case OutcomeSessionLimit:
		return "session_limit"
	case OutcomeTokenLimit:
		return "token_limit"
	case OutcomeBackendError:
		return "backend_error"
	case OutcomeEmptyCompletion:
		return "empty_completion"
	case OutcomeStorageError:
		return "storage_error"
	}
	return "unknown"
}

// Reply is a rendering-agnostic answer: text plus suggested next actions.
type Reply struct {
	Text    string
	Actions []string
	Outcome Outcome
	// Attachment is a file path the transport should send, if any.
	Attachment string
	// Err carries the underlying failure for transport-side logging.
	Err error

	// answered is set once an assistant turn was persisted.
	answered bool
}

func actions(cmds ...Command) []string {
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c.Label())
	}
	return out
}

// User-facing texts.
const (
	textGreeting = "Hi! I write stories together with a neural network.\n" +
		"We take turns: I start, and you continue.\n" +
		"Send /new_story to start a new story.\n" +
		"When you are done, send /end."
	textNotRegistered     = "You are not registered yet. Send /start first."
	textFinishWizard      = "To write a story, answer a few questions first.\nSend /new_story and answer them all."
	textNoStory           = "You haven't started a story yet.\nSend /begin to start."
	textStoryIntro        = "Here is the story we have so far:\n\n"
	textThanks            = "Thanks for writing this story with me!"
	textEmptyCompletion   = "I couldn't come up with a continuation :( Try again."
	textTokenizerDown     = "The story service is unavailable right now. Please try again later."
	textStorageError      = "Something went wrong while saving the story. Please try again later."
	textRegistrationLimit = "The user limit for registration has been reached."
	textSessionLimit      = "You have used all %d stories available to you."
	textTokenLimit        = "This story has used up its token budget (%d of %d). Send /new_story to start another one."
	textDebugOn           = "Test mode is on."
	textDebugOff          = "Test mode is off."
	textUsage             = "Over the whole lifetime of the bot\n%d tokens were used by %d users."
	textAdminOnly         = "This command is only available to the administrator."
	textLogMissing        = "Log file %s not found :("
	textUnknownCommand    = "Unknown command."
)

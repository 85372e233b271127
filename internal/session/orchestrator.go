// Package session ties the turn store, token accounting, quotas, the
// registration wizard and the completion gateway together. It is the only
// package a transport calls into.
package session

import (
	"context"
	"strings"
	"sync"

	"storybot/internal/gateway"
	"storybot/internal/logging"
	"storybot/internal/quota"
	"storybot/internal/store"
	"storybot/internal/usage"
	"storybot/internal/wizard"
)

// Deps wires an Orchestrator.
type Deps struct {
	Store     store.TurnStore
	Tokenizer usage.Tokenizer
	Completer gateway.Completer
	Limits    quota.Limits
	Catalog   wizard.Catalog
	// AdminID may fetch the log file; zero disables the command.
	AdminID int64
	LogFile string
}

// userContext is the in-memory registration and story state of one user.
// It is only touched while the user's lock is held.
type userContext struct {
	state    wizard.State
	draft    wizard.Draft
	testMode bool
}

type request struct {
	userID int64
	id     string
	log    *logging.Logger
	audit  *logging.AuditLogger
}

// userLock serializes one user's messages. refs counts holders and
// waiters; the entry is dropped when it reaches zero.
type userLock struct {
	mu   sync.Mutex
	refs int
}

type handlerFunc func(o *Orchestrator, ctx context.Context, r *request) Reply

// Orchestrator drives one user message end-to-end. Messages from the same
// user are serialized; different users run in parallel.
type Orchestrator struct {
	store      store.TurnStore
	accountant *usage.Accountant
	quota      *quota.Enforcer
	wizard     *wizard.Wizard
	gateway    *gateway.Gateway
	adminID    int64
	logFile    string

	handlers map[Command]handlerFunc

	// regMu serializes the first session of new users against the user cap.
	regMu sync.Mutex

	// users keeps one context per user that ever sent /start; it is
	// bounded by the user cap in practice. locks only holds users with a
	// message in flight.
	mu    sync.Mutex
	users map[int64]*userContext
	locks map[int64]*userLock
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		store:      d.Store,
		accountant: usage.NewAccountant(d.Tokenizer, d.Store),
		quota:      quota.NewEnforcer(d.Limits, d.Store),
		wizard:     wizard.New(d.Catalog),
		gateway:    gateway.New(d.Completer),
		adminID:    d.AdminID,
		logFile:    d.LogFile,
		users:      make(map[int64]*userContext),
		locks:      make(map[int64]*userLock),
	}
	o.handlers = map[Command]handlerFunc{
		CmdStart:       (*Orchestrator).handleStart,
		CmdNewStory:    (*Orchestrator).handleNewStory,
		CmdBegin:       (*Orchestrator).handleBegin,
		CmdEnd:         (*Orchestrator).handleEnd,
		CmdWholeStory:  (*Orchestrator).handleWholeStory,
		CmdDebugOn:     (*Orchestrator).handleDebugOn,
		CmdDebugOff:    (*Orchestrator).handleDebugOff,
		CmdUsageReport: (*Orchestrator).handleUsageReport,
		CmdLogs:        (*Orchestrator).handleLogs,
	}
	logging.Session("Orchestrator ready (max users %d, sessions %d, tokens %d)",
		d.Limits.MaxUsers, d.Limits.MaxSessions, d.Limits.MaxTokensPerSession)
	return o
}

// HandleCommand runs cmd for a user.
func (o *Orchestrator) HandleCommand(ctx context.Context, userID int64, cmd Command) Reply {
	h, ok := o.handlers[cmd]
	if !ok {
		return Reply{Text: textUnknownCommand, Outcome: OutcomeRejected, Actions: actions(CmdStart)}
	}

	unlock := o.lockUser(userID)
	defer unlock()

	r := o.newRequest(userID)
	r.log.Info("user=%d command=%s", userID, cmd)
	reply := h(o, ctx, r)
	r.log.Debug("user=%d command=%s outcome=%s", userID, cmd, reply.Outcome)
	return reply
}

// HandleText handles free text: wizard answers during registration and
// story turns once a story is running. Text that parses as a slash
// command is routed to HandleCommand.
func (o *Orchestrator) HandleText(ctx context.Context, userID int64, text string) Reply {
	if strings.HasPrefix(strings.TrimSpace(text), "/") {
		if cmd, ok := ParseCommand(text); ok {
			return o.HandleCommand(ctx, userID, cmd)
		}
	}

	unlock := o.lockUser(userID)
	defer unlock()

	r := o.newRequest(userID)
	uc, ok := o.context(userID)
	if !ok {
		return Reply{Text: textNotRegistered, Outcome: OutcomeRejected, Actions: actions(CmdStart)}
	}

	if uc.state == wizard.InStory {
		r.log.Info("user=%d story turn (%d bytes)", userID, len(text))
		return o.storyTurn(ctx, r, uc, text, false)
	}

	step, _ := o.wizard.Input(uc.state, &uc.draft, text)
	uc.state = step.Next
	r.log.Debug("user=%d wizard state=%s accepted=%v", userID, uc.state, step.Accepted)

	reply := Reply{
		Text:    step.Prompt.Text,
		Actions: append(append([]string{}, step.Prompt.Choices...), stateActions(uc.state)...),
		Outcome: OutcomeOK,
	}
	if !step.Accepted {
		reply.Outcome = OutcomeRejected
	}
	return reply
}

// State returns the wizard state of a user, if they have a context.
func (o *Orchestrator) State(userID int64) (wizard.State, bool) {
	unlock := o.lockUser(userID)
	defer unlock()
	uc, ok := o.context(userID)
	if !ok {
		return wizard.Unregistered, false
	}
	return uc.state, true
}

func (o *Orchestrator) newRequest(userID int64) *request {
	id := logging.NewRequestID()
	return &request{
		userID: userID,
		id:     id,
		log:    logging.WithRequestID(logging.CategorySession, id),
		audit:  logging.AuditWithRequest(id),
	}
}

// lockUser blocks until userID is free and returns the unlock func.
func (o *Orchestrator) lockUser(userID int64) func() {
	o.mu.Lock()
	l, ok := o.locks[userID]
	if !ok {
		l = &userLock{}
		o.locks[userID] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		o.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, userID)
		}
		o.mu.Unlock()
	}
}

func (o *Orchestrator) context(userID int64) (*userContext, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	uc, ok := o.users[userID]
	return uc, ok
}

func (o *Orchestrator) resetContext(userID int64) *userContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	uc := &userContext{state: wizard.Unregistered}
	o.users[userID] = uc
	return uc
}

// stateActions are the commands suggested after a wizard step.
func stateActions(s wizard.State) []string {
	switch s {
	case wizard.Unregistered:
		return actions(CmdNewStory)
	case wizard.AwaitingExtraInfo, wizard.ReadyToBegin:
		return actions(CmdBegin)
	case wizard.InStory:
		return actions(CmdEnd)
	case wizard.Ended:
		return actions(CmdNewStory, CmdWholeStory, CmdUsageReport)
	}
	return nil
}

package session

import (
	"context"
	"fmt"
	"os"
	"strings"

	"storybot/internal/gateway"
	"storybot/internal/logging"
	"storybot/internal/types"
	"storybot/internal/wizard"
)

func (o *Orchestrator) handleStart(_ context.Context, r *request) Reply {
	o.resetContext(r.userID)
	return Reply{Text: textGreeting, Outcome: OutcomeOK, Actions: actions(CmdNewStory)}
}

func (o *Orchestrator) handleNewStory(ctx context.Context, r *request) Reply {
	uc, ok := o.context(r.userID)
	if !ok {
		return notRegistered()
	}

	if err := o.quota.CheckRegistration(ctx, r.userID); err != nil {
		return o.limitReply(r, uc, 0, err, logging.AuditQuotaBlock)
	}

	step := o.wizard.Start(&uc.draft)
	uc.state = step.Next
	return Reply{Text: step.Prompt.Text, Outcome: OutcomeOK, Actions: step.Prompt.Choices}
}

// handleBegin opens a new session: the system prompt is counted and stored
// first, then the opening is requested.
func (o *Orchestrator) handleBegin(ctx context.Context, r *request) Reply {
	uc, ok := o.context(r.userID)
	if !ok {
		return notRegistered()
	}
	if _, err := o.wizard.Begin(uc.state, uc.draft); err != nil {
		return Reply{Text: textFinishWizard, Outcome: OutcomeRejected, Actions: actions(CmdNewStory)}
	}

	sys, failed := o.openSession(ctx, r, uc)
	if failed != nil {
		return *failed
	}
	uc.state = wizard.InStory

	r.audit.Log(logging.AuditEvent{
		EventType:  logging.AuditSessionStart,
		UserID:     r.userID,
		SessionID:  sys.SessionID,
		TokenCount: sys.TokenCount,
		Message:    fmt.Sprintf("story started: %s / %s / %s", uc.draft.Genre, uc.draft.Character, uc.draft.Setting),
	})
	r.log.Info("user=%d opened session %d", r.userID, sys.SessionID)

	return o.respond(ctx, r, uc, sys.SessionID, []types.Turn{sys}, types.ModeContinue)
}

// openSession runs the quota checks and stores the system turn of the next
// session. A user without stored turns holds regMu from the user-cap check
// until the system turn is written, so concurrent first sessions cannot
// overshoot the cap.
func (o *Orchestrator) openSession(ctx context.Context, r *request, uc *userContext) (types.Turn, *Reply) {
	fail := func(reply Reply) (types.Turn, *Reply) { return types.Turn{}, &reply }

	latest, existing, err := o.store.LatestSessionID(ctx, r.userID)
	if err != nil {
		return fail(o.storageFailure(r, err))
	}
	session := 1
	if existing {
		session = latest + 1
	} else {
		o.regMu.Lock()
		defer o.regMu.Unlock()
	}

	if err := o.quota.CheckRegistration(ctx, r.userID); err != nil {
		return fail(o.limitReply(r, uc, 0, err, logging.AuditQuotaBlock))
	}
	if err := o.quota.CheckSessionLimit(ctx, r.userID, true); err != nil {
		return fail(o.limitReply(r, uc, 0, err, logging.AuditQuotaBlock))
	}

	prompt := gateway.SystemPrompt(uc.draft, o.wizard.Catalog().SettingDescription(uc.draft.Setting))
	m, err := o.accountant.Measure(ctx, r.userID, session, nil, types.Message{Role: types.RoleSystem, Content: prompt})
	if err != nil {
		return fail(o.tokenizerFailure(r, session, err))
	}
	if err := o.quota.CheckTokenLimit(ctx, r.userID, session, m.Delta); err != nil {
		return fail(o.limitReply(r, uc, session, err, logging.AuditQuotaBlock))
	}

	sys, err := o.store.Append(ctx, types.Turn{
		UserID:     r.userID,
		Role:       types.RoleSystem,
		Content:    prompt,
		TokenCount: m.Delta,
		SessionID:  session,
	})
	if err != nil {
		return fail(o.storageFailure(r, err))
	}
	return sys, nil
}

func (o *Orchestrator) handleEnd(ctx context.Context, r *request) Reply {
	uc, ok := o.context(r.userID)
	if !ok {
		return notRegistered()
	}
	if _, err := o.wizard.End(uc.state); err != nil {
		return Reply{Text: textNoStory, Outcome: OutcomeRejected, Actions: actions(CmdBegin)}
	}

	reply := o.storyTurn(ctx, r, uc, "", true)
	if reply.answered || reply.Outcome == OutcomeTokenLimit {
		if uc.state == wizard.InStory {
			uc.state, _ = o.wizard.End(uc.state)
		}
		if reply.Outcome != OutcomeTokenLimit {
			reply.Text += "\n\n" + textThanks
		}
		reply.Actions = stateActions(wizard.Ended)
		if o.isAdmin(r.userID) {
			reply.Actions = append(reply.Actions, CmdLogs.Label())
		}

		if latest, ok, err := o.store.LatestSessionID(ctx, r.userID); err == nil && ok {
			r.audit.Log(logging.AuditEvent{EventType: logging.AuditSessionEnd, UserID: r.userID, SessionID: latest, Message: "story ended"})
		}
	}
	return reply
}

// handleWholeStory concatenates the latest session without its system turn.
func (o *Orchestrator) handleWholeStory(ctx context.Context, r *request) Reply {
	session, ok, err := o.store.LatestSessionID(ctx, r.userID)
	if err != nil {
		return o.storageFailure(r, err)
	}
	if !ok {
		return Reply{Text: textNoStory, Outcome: OutcomeRejected, Actions: actions(CmdBegin)}
	}

	history, err := o.store.History(ctx, r.userID, session)
	if err != nil {
		return o.storageFailure(r, err)
	}

	var b strings.Builder
	for _, t := range history {
		if t.Role == types.RoleSystem {
			continue
		}
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return Reply{
		Text:    textStoryIntro + b.String(),
		Outcome: OutcomeOK,
		Actions: actions(CmdNewStory, CmdUsageReport),
	}
}

func (o *Orchestrator) handleDebugOn(_ context.Context, r *request) Reply {
	return o.setTestMode(r, true)
}

func (o *Orchestrator) handleDebugOff(_ context.Context, r *request) Reply {
	return o.setTestMode(r, false)
}

func (o *Orchestrator) setTestMode(r *request, on bool) Reply {
	uc, ok := o.context(r.userID)
	if !ok {
		return notRegistered()
	}
	uc.testMode = on
	r.log.Info("user=%d test mode=%v", r.userID, on)
	if on {
		return Reply{Text: textDebugOn, Outcome: OutcomeOK}
	}
	return Reply{Text: textDebugOff, Outcome: OutcomeOK}
}

func (o *Orchestrator) handleUsageReport(ctx context.Context, r *request) Reply {
	report, err := o.accountant.Report(ctx)
	if err != nil {
		return o.storageFailure(r, err)
	}
	return Reply{
		Text:    fmt.Sprintf(textUsage, report.LifetimeTokens, report.Users),
		Outcome: OutcomeOK,
		Actions: actions(CmdNewStory),
	}
}

func (o *Orchestrator) handleLogs(_ context.Context, r *request) Reply {
	if !o.isAdmin(r.userID) {
		return Reply{Text: textAdminOnly, Outcome: OutcomeRejected}
	}
	if _, err := os.Stat(o.logFile); err != nil {
		return Reply{Text: fmt.Sprintf(textLogMissing, o.logFile), Outcome: OutcomeRejected}
	}
	if err := logging.Sync(); err != nil {
		r.log.Debug("log sync before attachment: %v", err)
	}
	return Reply{Outcome: OutcomeOK, Attachment: o.logFile, Actions: actions(CmdNewStory, CmdUsageReport)}
}

func (o *Orchestrator) isAdmin(userID int64) bool {
	return o.adminID != 0 && userID == o.adminID
}

func notRegistered() Reply {
	return Reply{Text: textNotRegistered, Outcome: OutcomeRejected, Actions: actions(CmdStart)}
}

package session

import (
	"context"
	"errors"
	"fmt"

	"storybot/internal/gateway"
	"storybot/internal/logging"
	"storybot/internal/quota"
	"storybot/internal/types"
	"storybot/internal/wizard"
)

// storyTurn appends one user turn to the latest session and answers it.
// ending replaces text with the end-of-story marker and asks for a finale.
func (o *Orchestrator) storyTurn(ctx context.Context, r *request, uc *userContext, text string, ending bool) Reply {
	mode := types.ModeContinue
	if ending {
		mode = types.ModeEnd
		text = gateway.EndOfStoryMarker
	}

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

	m, err := o.accountant.Measure(ctx, r.userID, session, history, types.Message{Role: types.RoleUser, Content: text})
	if err != nil {
		return o.tokenizerFailure(r, session, err)
	}

	if err := o.quota.CheckTokenLimit(ctx, r.userID, session, m.Delta); err != nil {
		return o.limitReply(r, uc, session, err, logging.AuditQuotaBlock)
	}

	turn, err := o.store.Append(ctx, types.Turn{
		UserID:     r.userID,
		Role:       types.RoleUser,
		Content:    text,
		TokenCount: m.Delta,
		SessionID:  session,
	})
	if err != nil {
		return o.storageFailure(r, err)
	}
	r.audit.TurnAppended(r.userID, session, string(types.RoleUser), m.Delta, m.Total)

	// Totals are re-read from the store before the backend is called.
	if err := o.quota.CheckTokenLimit(ctx, r.userID, session, 0); err != nil {
		return o.limitReply(r, uc, session, err, logging.AuditQuotaBlock)
	}

	return o.respond(ctx, r, uc, session, append(history, turn), mode)
}

// respond calls the gateway and persists whatever it produced, then runs
// the final budget check. A breach here is reported but the reply is kept.
func (o *Orchestrator) respond(ctx context.Context, r *request, uc *userContext, session int, history []types.Turn, mode types.Mode) Reply {
	res := o.gateway.Complete(ctx, history, mode)

	m, err := o.accountant.Measure(ctx, r.userID, session, history, types.Message{Role: types.RoleAssistant, Content: res.Text})
	if err != nil {
		return o.tokenizerFailure(r, session, err)
	}

	if _, err := o.store.Append(ctx, types.Turn{
		UserID:     r.userID,
		Role:       types.RoleAssistant,
		Content:    res.Text,
		TokenCount: m.Delta,
		SessionID:  session,
	}); err != nil {
		return o.storageFailure(r, err)
	}
	r.audit.TurnAppended(r.userID, session, string(types.RoleAssistant), m.Delta, m.Total)

	reply := o.outcomeReply(r, uc, session, res)
	reply.answered = true

	if err := o.quota.CheckTokenLimit(ctx, r.userID, session, 0); err != nil {
		breach := o.limitReply(r, uc, session, err, logging.AuditQuotaBreach)
		if breach.Outcome != OutcomeTokenLimit {
			return breach
		}
		reply.Text += "\n\n" + breach.Text
		reply.Outcome = OutcomeTokenLimit
		reply.Actions = breach.Actions
		reply.Err = breach.Err
	}
	return reply
}

func (o *Orchestrator) outcomeReply(r *request, uc *userContext, session int, res gateway.Result) Reply {
	text := res.Text
	if uc.testMode {
		text = res.DebugText
	}

	switch res.Outcome {
	case gateway.OutcomeSuccess:
		return Reply{Text: text, Outcome: OutcomeOK, Actions: actions(CmdEnd)}

	case gateway.OutcomeEmpty:
		r.audit.Log(logging.AuditEvent{
			EventType: logging.AuditEmptyResult,
			UserID:    r.userID,
			SessionID: session,
			Message:   "backend returned an empty completion",
		})
		msg := textEmptyCompletion
		if uc.testMode {
			msg += "\n\n" + res.DebugText
		}
		return Reply{Text: msg, Outcome: OutcomeEmptyCompletion, Actions: actions(CmdEnd)}

	default:
		r.audit.Log(logging.AuditEvent{
			EventType: logging.AuditBackendError,
			UserID:    r.userID,
			SessionID: session,
			Error:     errString(res.Err),
			Message:   fmt.Sprintf("completion %s", res.Outcome),
		})
		return Reply{Text: text, Outcome: OutcomeBackendError, Actions: actions(CmdEnd), Err: res.Err}
	}
}

// limitReply maps a quota error to a reply. A token-limit hit ends the story.
func (o *Orchestrator) limitReply(r *request, uc *userContext, session int, err error, event logging.AuditEventType) Reply {
	var le *quota.LimitError
	if !errors.As(err, &le) {
		return o.storageFailure(r, err)
	}
	r.audit.QuotaEvent(event, r.userID, session, err)

	switch le.Kind {
	case quota.KindTokens:
		uc.state = wizard.Ended
		return Reply{
			Text:    fmt.Sprintf(textTokenLimit, le.Actual, le.Limit),
			Outcome: OutcomeTokenLimit,
			Actions: stateActions(wizard.Ended),
			Err:     err,
		}
	case quota.KindRegistration:
		return Reply{Text: textRegistrationLimit, Outcome: OutcomeSessionLimit, Err: err}
	default:
		return Reply{
			Text:    fmt.Sprintf(textSessionLimit, le.Limit),
			Outcome: OutcomeSessionLimit,
			Actions: actions(CmdWholeStory, CmdUsageReport),
			Err:     err,
		}
	}
}

func (o *Orchestrator) tokenizerFailure(r *request, session int, err error) Reply {
	r.log.Error("user=%d session=%d token count failed: %v", r.userID, session, err)
	r.audit.Log(logging.AuditEvent{
		EventType: logging.AuditBackendError,
		UserID:    r.userID,
		SessionID: session,
		Error:     err.Error(),
		Message:   "tokenizer failed",
	})
	return Reply{Text: textTokenizerDown, Outcome: OutcomeBackendError, Err: err}
}

func (o *Orchestrator) storageFailure(r *request, err error) Reply {
	r.log.Error("user=%d storage failure: %v", r.userID, err)
	return Reply{Text: textStorageError, Outcome: OutcomeStorageError, Err: err}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

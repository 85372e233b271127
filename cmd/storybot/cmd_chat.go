package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storybot/internal/console"
	"storybot/internal/session"
)

var chatUser int64

// chatCmd runs the console transport
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the bot from the terminal",
	Long: `Starts a line-oriented chat as the given user id. Lines starting with "/"
are commands (/start, /new_story, /begin, /end, ...); anything else is a
wizard answer or the next part of the story.

With metadata credentials the cached token file is watched, so a token
refreshed by another process is picked up without a restart.`,
	RunE: runChat,
}

// usageCmd prints the lifetime usage report
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show lifetime token usage across all users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneShot(cmd, cfg.AdminID, session.CmdUsageReport)
	},
}

var storyUser int64

// storyCmd prints a user's latest story
var storyCmd = &cobra.Command{
	Use:   "story",
	Short: "Print the latest story of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneShot(cmd, storyUser, session.CmdWholeStory)
	},
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if a.tokens != nil {
		g.Go(func() error {
			return a.tokens.Watch(gctx)
		})
	}

	g.Go(func() error {
		// the watcher only stops when the console does
		defer cancel()
		repl := console.New(a.orch, console.Options{
			In:     cmd.InOrStdin(),
			Out:    cmd.OutOrStdout(),
			UserID: chatUser,
		})
		return repl.Run(gctx)
	})

	logger.Info("Chat started", zap.Int64("user", chatUser), zap.String("credentials", cfg.Credentials.Mode))
	if err := g.Wait(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	logger.Info("Chat finished", zap.Int64("user", chatUser))
	return nil
}

// runOneShot runs a single command for userID and renders the reply.
func runOneShot(cmd *cobra.Command, userID int64, c session.Command) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	reply := a.orch.HandleCommand(cmd.Context(), userID, c)
	console.New(a.orch, console.Options{Out: cmd.OutOrStdout(), UserID: userID}).Render(reply)

	if reply.Err != nil {
		logger.Error("Command failed", zap.String("command", c.String()), zap.Int64("user", userID), zap.Error(reply.Err))
		return reply.Err
	}
	return nil
}

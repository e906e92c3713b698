// ABOUTME: CLI that tails a conversation's live updates through the weft client
// ABOUTME: Prints tool activity as it streams and the merged timeline on exit

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/loomworks/weft"
	"github.com/loomworks/weft/aggregate"
	"github.com/loomworks/weft/timeline"
	"github.com/loomworks/weft/wire"
)

func main() {
	var (
		baseURL        = flag.String("url", "http://localhost:3000", "backend base URL")
		conversationID = flag.String("conversation", "", "conversation id to tail (empty lists conversations)")
		send           = flag.String("send", "", "message to send after subscribing")
		debug          = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *baseURL, *conversationID, *send, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, baseURL, conversationID, send string, logger *slog.Logger) error {
	client, err := weft.New(weft.Options{
		BaseURL:            baseURL,
		RefetchOnReconnect: true,
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if conversationID == "" {
		return listConversations(ctx, client)
	}

	unsub := client.Subscribe(ctx, conversationID, printEnvelope)
	defer unsub()

	if err := client.RefreshHistory(ctx); err != nil {
		logger.Warn("history fetch failed, tailing live only", "error", err)
	}

	color.HiBlack("tailing %s (ctrl-c to stop)", conversationID)

	if send != "" {
		answer, err := client.SendMessage(ctx, conversationID, send)
		if err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
		color.Green("assistant: %s", answer)
	}

	<-ctx.Done()

	// A fresh context: the signal context is already cancelled.
	refreshCtx, refreshCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer refreshCancel()
	if err := client.RefreshHistory(refreshCtx); err == nil {
		fmt.Println()
		printTimeline(client.Timeline(conversationID))
	}
	return nil
}

func listConversations(ctx context.Context, client *weft.Client) error {
	conversations, err := client.Conversations(ctx)
	if err != nil {
		return err
	}
	if len(conversations) == 0 {
		fmt.Println("no conversations")
		return nil
	}
	for _, conv := range conversations {
		fmt.Printf("%s  %s  (%d messages)\n",
			color.CyanString(conv.ID), conv.Title, len(conv.Messages))
	}
	return nil
}

func printEnvelope(env wire.Envelope) {
	switch env.Kind {
	case wire.KindToolStart:
		color.Yellow("⚙ %s started  [%s]", env.Tool, env.InvocationID)
	case wire.KindProgress:
		color.HiBlack("  %3.0f%%  %s", env.Progress*100, env.Message)
	case wire.KindToolResult:
		if env.Error != "" {
			color.Red("✗ %s failed: %s", env.Tool, env.Error)
			return
		}
		color.Green("✓ result  [%s]  %s", env.InvocationID, env.Result)
	case "thinking":
		color.HiBlack("… %s", env.Message)
	}
}

func printTimeline(items []timeline.Item) {
	for _, item := range items {
		ts := color.HiBlackString(item.Timestamp.Format("15:04:05"))
		switch item.Kind {
		case timeline.ItemMessage:
			role := color.CyanString(item.Message.Role)
			if item.Message.Role == timeline.RoleAssistant {
				role = color.GreenString(item.Message.Role)
			}
			fmt.Printf("%s %s: %s\n", ts, role, item.Message.Content)
		case timeline.ItemInvocation:
			fmt.Printf("%s %s\n", ts, describeInvocation(item.Invocation))
		}
	}
}

func describeInvocation(inv *aggregate.Invocation) string {
	switch inv.State {
	case aggregate.StateDone:
		return color.GreenString("⚙ %s done  %s", inv.Tool, inv.Result)
	case aggregate.StateError:
		return color.RedString("⚙ %s error: %s", inv.Tool, inv.Error)
	case aggregate.StateRunning:
		return color.YellowString("⚙ %s running  %.0f%%", inv.Tool, inv.Progress*100)
	}
	return color.HiBlackString("⚙ %s pending", inv.Tool)
}

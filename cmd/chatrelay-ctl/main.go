package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"chatrelay/internal/events"
	"chatrelay/internal/ipc"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#c9d1d9"))
	onStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7ec699"))
	offStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#d48a8a"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8b949e"))
)

func main() {
	var socket string

	rootCmd := &cobra.Command{
		Use:          "chatrelay-ctl",
		Short:        "Control a running chatrelay daemon",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&socket, "socket", "S", ipc.DefaultSocketPath, "Control socket path")

	send := func(msg ipc.ControlMessage) error {
		r, err := ipc.Send(socket, msg)
		if err != nil {
			return fmt.Errorf("chatrelay not reachable: %w", err)
		}
		fmt.Print(render(r))
		return nil
	}

	simple := func(use, short, cmd string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return send(ipc.ControlMessage{Cmd: cmd})
			},
		}
	}
	withChat := func(use, short, cmd string) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <chat-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return send(ipc.ControlMessage{Cmd: cmd, ChatID: args[0]})
			},
		}
	}

	rootCmd.AddCommand(
		simple("status", "Show connection and gating state", ipc.CmdStatus),
		simple("enable", "Turn automatic replies on", ipc.CmdEnable),
		simple("disable", "Turn automatic replies off", ipc.CmdDisable),
		simple("paused", "List paused conversations", ipc.CmdPaused),
		withChat("pause", "Stop replying in one conversation", ipc.CmdPause),
		withChat("resume", "Reply again in one conversation", ipc.CmdResume),
		newWatchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, offStyle.Render("✗ ")+err.Error())
		os.Exit(1)
	}
}

func render(r ipc.Reply) string {
	var b strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", label)), value)
	}

	row("whatsapp", flag(r.Connected, "connected", "offline"))
	row("replies", flag(r.Enabled, "enabled", "disabled"))
	if len(r.Paused) == 0 {
		row("paused", dimStyle.Render("none"))
	} else {
		row("paused", strings.Join(r.Paused, ", "))
	}
	return b.String()
}

func flag(on bool, yes, no string) string {
	if on {
		return onStyle.Render("● " + yes)
	}
	return offStyle.Render("○ " + no)
}

func newWatchCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream pipeline and control events from the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return events.Watch(ctx, url, 2*time.Second, func(e events.Event) {
				fmt.Println(renderEvent(e))
			})
		},
	}
	cmd.Flags().StringVarP(&url, "url", "u", "ws://localhost:3000/events", "Event stream URL")
	return cmd
}

func renderEvent(e events.Event) string {
	style := dimStyle
	switch e.Kind {
	case events.Replied, events.Enabled, events.Resumed, events.Connected:
		style = onStyle
	case events.TranscriptionFailed, events.ChatFailed, events.Undelivered, events.Disabled, events.Paused, events.Disconnected:
		style = offStyle
	}

	line := dimStyle.Render(e.Time.Local().Format("15:04:05")) + " " + style.Render(fmt.Sprintf("%-20s", e.Kind))
	if e.ChatID != "" {
		line += " " + labelStyle.Render(e.ChatID)
	}
	if e.Detail != "" {
		line += " " + dimStyle.Render(e.Detail)
	}
	return line
}

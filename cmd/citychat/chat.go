package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/citychat/internal/app"
	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/events"
	"github.com/vovakirdan/citychat/internal/log"
	"github.com/vovakirdan/citychat/internal/moderation"
)

const chatHelp = `Commands:
  /dm <user> [message]  ask a user to start a direct conversation
  /accept, /decline     answer the newest DM request
  /open <user>          switch to the conversation with user
  /global               switch back to the global chat
  /status               show the connection notice, if any
  /quit                 exit
Anything else is sent to the current chat.`

func newChatCommand(root *rootOptions) *cobra.Command {
	var (
		user    string
		server  string
		apiURL  string
		codec   string
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join the town chat from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cfg
			if cmd.Flags().Changed("user") {
				cfg.Username = user
				cfg.Token = ""
			}
			if cmd.Flags().Changed("server") {
				cfg.ServerURL = server
			}
			if cmd.Flags().Changed("api") {
				cfg.APIURL = apiURL
			}
			if cmd.Flags().Changed("codec") {
				cfg.Codec = codec
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, closeLog, err := chatLogger(cfg.LogLevel, logFile)
			if err != nil {
				return err
			}
			defer closeLog()

			baseCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(baseCtx)
			defer cancel()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}

			term := &terminal{app: a, out: cmd.OutOrStdout()}
			sub := term.subscribe()
			defer sub.Close()

			runErr := make(chan error, 1)
			go func() {
				defer cancel()
				runErr <- a.Run(ctx)
			}()

			term.printf("Connecting to %s as %s (codec %s)\n", cfg.ServerURL, cfg.Username, cfg.Codec)
			term.printf("%s\n", chatHelp)
			term.writeLoop(ctx, cancel, cmd.InOrStdin())

			cancel()
			if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "username to sign in as")
	cmd.Flags().StringVar(&server, "server", "", "WebSocket URL")
	cmd.Flags().StringVar(&apiURL, "api", "", "REST base URL")
	cmd.Flags().StringVar(&codec, "codec", "", "wire codec (json or msgpack)")
	cmd.Flags().StringVar(&logFile, "log-file", "citychat.log", "file for client logs; empty discards them")
	return cmd
}

func chatLogger(level, path string) (*zerolog.Logger, func(), error) {
	if path == "" {
		return log.NewWithWriter(level, io.Discard), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return log.NewWithWriter(level, f), func() { _ = f.Close() }, nil
}

// terminal renders bus events as transcript lines and turns input lines
// into chat actions.
type terminal struct {
	app *app.App

	outMu sync.Mutex
	out   io.Writer

	mu     sync.Mutex
	active string         // conversation id, empty for the global chat
	banner *core.Feedback // persistent notice, nil when none
}

func (t *terminal) printf(format string, args ...any) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) activeConversation() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *terminal) setActive(id string) {
	t.mu.Lock()
	t.active = id
	t.mu.Unlock()
}

// notify prints a categorized notice.
func (t *terminal) notify(fb core.Feedback) {
	line := fmt.Sprintf("! [%s] %s: %s", fb.Severity, fb.Title, clean(fb.Message))
	if fb.Suggestion != "" {
		line += " (" + clean(fb.Suggestion) + ")"
	}
	t.printf("%s\n", line)
}

func (t *terminal) report(err error) {
	t.notify(core.FeedbackFor(err))
}

func (t *terminal) setBanner(fb *core.Feedback) {
	t.mu.Lock()
	t.banner = fb
	t.mu.Unlock()
}

func (t *terminal) currentBanner() (core.Feedback, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.banner == nil {
		return core.Feedback{}, false
	}
	return *t.banner, true
}

func (t *terminal) subscribe() *events.Subscription {
	bus := t.app.Bus()
	sub := events.NewSubscription(bus)

	sub.Add(events.Authenticated, events.Subscribe(bus, events.Authenticated, func(p events.AuthenticatedPayload) {
		if _, lost := t.currentBanner(); lost {
			t.setBanner(nil)
			t.printf("* connection restored\n")
		}
		t.printf("* signed in as %s\n", p.Username)
	}))
	sub.Add(events.Disconnected, events.Subscribe(bus, events.Disconnected, func(p events.DisconnectedPayload) {
		if p.Intentional {
			return
		}
		if _, lost := t.currentBanner(); lost {
			return
		}
		fb := core.ConnectionLostFeedback()
		t.setBanner(&fb)
		t.notify(fb)
	}))
	sub.Add(events.AuthError, events.Subscribe(bus, events.AuthError, func(p events.AuthErrorPayload) {
		t.printf("* sign-in rejected: %s\n", p.Message)
	}))
	sub.Add(events.Reconnecting, events.Subscribe(bus, events.Reconnecting, func(p events.ReconnectingPayload) {
		t.printf("* connection lost, retry %d in %s\n", p.Attempt, p.Delay)
	}))
	sub.Add(events.ConnectionError, events.Subscribe(bus, events.ConnectionError, func(p events.ConnectionErrorPayload) {
		t.printf("* giving up after %d attempts: %v\n", p.Attempts, p.Err)
		if fb, lost := t.currentBanner(); lost {
			t.notify(fb)
		}
	}))
	sub.Add(events.GlobalMessageNew, events.Subscribe(bus, events.GlobalMessageNew, func(m core.Message) {
		t.printf("[global] %s: %s\n", clean(m.Sender.DisplayName), clean(m.Content))
	}))
	sub.Add(events.DirectMessageNew, events.Subscribe(bus, events.DirectMessageNew, func(m core.Message) {
		marker := "dm"
		if m.ConversationID == t.activeConversation() {
			marker = "dm*"
		}
		t.printf("[%s] %s: %s\n", marker, clean(m.Sender.DisplayName), clean(m.Content))
	}))
	sub.Add(events.DMRequestReceived, events.Subscribe(bus, events.DMRequestReceived, func(r core.DMRequest) {
		t.printf("* %s wants to chat: %q (/accept or /decline)\n", clean(r.Requester.Username), clean(r.Message))
	}))
	sub.Add(events.DMRequestAccepted, events.Subscribe(bus, events.DMRequestAccepted, func(r core.DMRequest) {
		t.printf("* %s accepted your DM request, /open %s\n", clean(r.Recipient.Username), r.Recipient.Username)
	}))
	sub.Add(events.DMRequestDeclined, events.Subscribe(bus, events.DMRequestDeclined, func(r core.DMRequest) {
		t.printf("* %s declined your DM request\n", clean(r.Recipient.Username))
	}))
	sub.Add(events.DMRequestExpired, events.Subscribe(bus, events.DMRequestExpired, func(r core.DMRequest) {
		t.printf("* DM request %s expired\n", r.ID)
	}))
	sub.Add(events.Notification, events.Subscribe(bus, events.Notification, func(n core.Notification) {
		if n.Kind == core.NotificationModeration {
			t.printf("! %s: %s\n", clean(n.Title), clean(n.Message))
		}
	}))
	sub.Add(events.UserOnline, events.Subscribe(bus, events.UserOnline, func(p core.Presence) {
		t.printf("* %s is online\n", clean(p.Username))
	}))
	sub.Add(events.UserOffline, events.Subscribe(bus, events.UserOffline, func(p core.Presence) {
		t.printf("* %s went offline\n", clean(p.Username))
	}))
	sub.Add(events.ServerError, events.Subscribe(bus, events.ServerError, func(err *core.Error) {
		t.report(err)
	}))
	return sub
}

func (t *terminal) writeLoop(ctx context.Context, cancel context.CancelFunc, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if text == "/quit" {
				cancel()
				return
			}
			if err := t.handle(ctx, text); err != nil {
				t.report(err)
			}
		}
	}
}

func (t *terminal) handle(ctx context.Context, text string) error {
	svc := t.app.Chat()
	if !strings.HasPrefix(text, "/") {
		if conv := t.activeConversation(); conv != "" {
			_, err := svc.SendDirect(ctx, conv, text, "")
			return err
		}
		_, err := svc.SendGlobal(ctx, text, "")
		return err
	}

	cmd, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/help":
		t.printf("%s\n", chatHelp)
		return nil
	case "/status":
		if fb, ok := t.currentBanner(); ok {
			t.notify(fb)
			return nil
		}
		t.printf("* connected\n")
		return nil
	case "/dm":
		name, msg, _ := strings.Cut(rest, " ")
		if name == "" {
			return core.ValidationError("usage: /dm <user> [message]")
		}
		user, err := t.findUser(ctx, name)
		if err != nil {
			return err
		}
		if _, err := svc.RequestDM(ctx, user.ID, msg); err != nil {
			return err
		}
		t.printf("* DM request sent to %s\n", clean(user.Username))
		return nil
	case "/accept", "/decline":
		req, ok := svc.Reconciler().CurrentDMRequest()
		if !ok {
			return core.NewError(core.KindNotFound, core.ErrCodeNotFound, "no pending DM request")
		}
		res, err := svc.RespondToDMRequest(ctx, req.ID, cmd == "/accept")
		if err != nil {
			return err
		}
		if res.ConversationID == "" {
			return nil
		}
		return t.open(ctx, res.ConversationID)
	case "/open":
		if rest == "" {
			return core.ValidationError("usage: /open <user>")
		}
		for _, conv := range svc.Reconciler().Conversations() {
			other, ok := conv.Other(svc.Reconciler().Self())
			if ok && strings.EqualFold(other.Username, rest) {
				return t.open(ctx, conv.ID)
			}
		}
		return core.NewError(core.KindNotFound, core.ErrCodeNotFound, "no conversation with "+rest)
	case "/global":
		if conv := t.activeConversation(); conv != "" {
			t.setActive("")
			return svc.CloseConversation(ctx, conv)
		}
		return nil
	default:
		return core.ValidationError("unknown command " + cmd + ", try /help")
	}
}

func (t *terminal) open(ctx context.Context, conversationID string) error {
	svc := t.app.Chat()
	if prev := t.activeConversation(); prev != "" && prev != conversationID {
		if err := svc.CloseConversation(ctx, prev); err != nil {
			return err
		}
	}
	if err := svc.OpenConversation(ctx, conversationID); err != nil {
		return err
	}
	t.setActive(conversationID)

	self := svc.Reconciler().Self()
	for _, m := range svc.Reconciler().Messages(core.Scope{ConversationID: conversationID}) {
		who := clean(m.Sender.DisplayName)
		if m.Sender.ID == self {
			who = "you"
		}
		t.printf("  %s %s: %s\n", m.CreatedAt.Format("15:04"), who, clean(m.Content))
	}
	t.printf("* now chatting in %s, /global to leave\n", conversationID)
	return nil
}

func (t *terminal) findUser(ctx context.Context, name string) (core.Participant, error) {
	users, err := t.app.Chat().SearchUsers(ctx, name)
	if err != nil {
		return core.Participant{}, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, name) {
			return u, nil
		}
	}
	return core.Participant{}, core.NewError(core.KindNotFound, core.ErrCodeNotFound, "user "+name+" not found")
}

func clean(s string) string {
	return moderation.StripMarkup(s)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/citychat/internal/api"
	clog "github.com/vovakirdan/citychat/internal/log"
	"github.com/vovakirdan/citychat/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	apiURL := flag.String("api", "http://localhost:8080", "REST base URL")
	user := flag.String("user", "tester", "username to issue a dev token for")
	room := flag.String("room", "global", "room to join")
	text := flag.String("text", "hello from smoke test", "message text to send")
	codecName := flag.String("codec", "json", "wire codec (json or msgpack)")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	codec, err := proto.CodecByName(*codecName)
	if err != nil {
		return err
	}

	client := api.New(ctx, api.Options{BaseURL: *apiURL, Logger: clog.Nop(), Timeout: *timeout})
	tok, err := client.IssueToken(ctx, *user)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, *addr, &websocket.DialOptions{Subprotocols: []string{codec.Name()}})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	msgType := websocket.MessageText
	if codec.Binary() {
		msgType = websocket.MessageBinary
	}
	send := func(event string, data any) error {
		raw, err := codec.Encode(event, data)
		if err != nil {
			return fmt.Errorf("encode %s: %w", event, err)
		}
		if err := conn.Write(ctx, msgType, raw); err != nil {
			return fmt.Errorf("send %s: %w", event, err)
		}
		return nil
	}

	if err := send(proto.CmdAuthenticate, proto.AuthenticateData{Token: tok.Token, Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}

	tempID := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		env, err := codec.Decode(raw)
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		fmt.Printf("Received event=%s\n", env.Event)

		switch env.Event {
		case proto.EvtAuthenticated:
			if err := send(proto.CmdJoinRoom, proto.RoomData{RoomID: *room}); err != nil {
				return err
			}
			if err := send(proto.CmdSendMessage, proto.SendMessageData{
				Content: *text,
				Type:    "global",
				RoomID:  *room,
				TempID:  tempID,
			}); err != nil {
				return err
			}
		case proto.EvtAuthError, proto.EvtError:
			var e proto.Error
			if err := env.Bind(&e); err != nil {
				return fmt.Errorf("bind %s: %w", env.Event, err)
			}
			return fmt.Errorf("server %s: %s", env.Event, e.Message)
		case proto.EvtNewGlobalMessage:
			var m proto.MessageData
			if err := env.Bind(&m); err != nil {
				return fmt.Errorf("bind message: %w", err)
			}
			if m.TempID == tempID {
				fmt.Printf("Echo received: id=%s content=%q\n", m.ID, m.Content)
				return nil
			}
		}
	}
}

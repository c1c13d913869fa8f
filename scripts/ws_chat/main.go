package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/rentme/chatrelay/internal/proto"
)

// Manual smoke client: connect with a token, join a conversation and
// type messages. Ctrl+C to exit.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "JWT from /api/login")
	with := flag.Int64("with", 0, "counterpart user id")
	flag.Parse()

	if *token == "" || *with <= 0 {
		return errors.New("both -token and -with are required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr+"?token="+*token, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(v any) {
		if writeErr := wsjson.Write(ctx, conn, v); writeErr != nil {
			cancel()
			log.Printf("send: %v", writeErr)
		}
	}

	joinPayload, err := json.Marshal(proto.JoinRoomData{UserID: *with})
	if err != nil {
		return fmt.Errorf("marshal join: %w", err)
	}
	send(proto.Inbound{Type: proto.InboundTypeJoinRoom, Data: joinPayload})

	fmt.Printf("Connected to %s, chatting with user %d\n", *addr, *with)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, *with, send)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("read: %v", err)
			}
			return
		}
		raw, _ := json.Marshal(outbound.Data)
		if outbound.Error != nil {
			fmt.Printf("<< error %s: %s\n", outbound.Error.Code, outbound.Error.Msg)
			continue
		}
		fmt.Printf("<< %s %s\n", outbound.Event, string(raw))
	}
}

func writeLoop(ctx context.Context, with int64, send func(any)) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// "/edit <id> <body>" and "/delete <id>" exercise mutations.
		if after, ok := strings.CutPrefix(line, "/edit "); ok {
			parts := strings.SplitN(after, " ", 2)
			if len(parts) != 2 {
				fmt.Println("usage: /edit <id> <body>")
				continue
			}
			id, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				fmt.Println("usage: /edit <id> <body>")
				continue
			}
			payload, _ := json.Marshal(proto.EditData{MessageID: id, Body: parts[1]})
			send(proto.Inbound{Type: proto.InboundTypeEdit, Data: payload})
			continue
		}
		if after, ok := strings.CutPrefix(line, "/delete "); ok {
			id, err := strconv.ParseInt(strings.TrimSpace(after), 10, 64)
			if err != nil {
				fmt.Println("usage: /delete <id>")
				continue
			}
			payload, _ := json.Marshal(proto.DeleteData{MessageID: id})
			send(proto.Inbound{Type: proto.InboundTypeDelete, Data: payload})
			continue
		}

		payload, _ := json.Marshal(proto.SendData{ReceiverID: with, Body: line})
		send(proto.Inbound{Type: proto.InboundTypeSend, Data: payload})
	}
}

package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/closer/pkg/transports/ws"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "agent websocket url")
	room := flag.String("room", "", "room name used for the transcript file")
	flag.Parse()

	u, err := url.Parse(*addr)
	if err != nil {
		fmt.Println("invalid addr:", err)
		os.Exit(1)
	}
	if *room != "" {
		q := u.Query()
		q.Set("room", *room)
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		fmt.Println("dial error:", err)
		os.Exit(1)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg ws.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case ws.MessageSession:
				fmt.Printf("connected: session=%s room=%s (type /bye to hang up)\n", msg.SessionID, msg.Room)
			case ws.MessageAgentText:
				fmt.Println("agent>", msg.Text)
				if msg.Final {
					fmt.Println("conversation finished")
					return
				}
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-done:
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/bye" {
				_ = conn.WriteJSON(ws.Message{Type: ws.MessageHangup})
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				<-done
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := conn.WriteJSON(ws.Message{Type: ws.MessageUserText, Text: line}); err != nil {
				fmt.Println("send error:", err)
				return
			}
		}
	}
}

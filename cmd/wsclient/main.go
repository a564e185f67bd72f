// Command wsclient is a simple WebSocket test client for the epoq host.
// Usage: go run ./cmd/wsclient --token 123456 ws://127.0.0.1:8765/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	token := flag.String("token", "", "Pairing code to authenticate with")
	stop := flag.Bool("stop", false, "Send stop_training after authenticating")
	flag.Parse()

	url := "ws://127.0.0.1:8765/"
	if flag.NArg() > 0 {
		url = flag.Arg(0)
	}

	fmt.Printf("Connecting to %s...\n", url)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if *token != "" {
		auth := map[string]string{"action": "authenticate", "token": *token}
		if err := conn.WriteJSON(auth); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to send authenticate: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Sent authenticate")
	}

	fmt.Println("Connected! Waiting for messages...")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	messageCount := 0

	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					fmt.Printf("Read error: %v\n", err)
				}
				return
			}

			messageCount++

			// Status frames are JSON; broadcast lines are raw text.
			var msg map[string]interface{}
			if err := json.Unmarshal(data, &msg); err != nil {
				fmt.Printf("[%d] %s\n", messageCount, string(data))
				continue
			}

			status, _ := msg["status"].(string)
			fmt.Printf("[%d] status=%s\n", messageCount, status)

			if status == "authenticated" && *stop {
				cmd := map[string]string{"action": "stop_training"}
				if err := conn.WriteJSON(cmd); err != nil {
					fmt.Printf("Failed to send stop_training: %v\n", err)
					return
				}
				fmt.Println("Sent stop_training")
			}
		}
	}()

	select {
	case <-done:
		fmt.Println("Connection closed")
	case <-interrupt:
		fmt.Println("Interrupted")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}

	fmt.Printf("Total messages received: %d\n", messageCount)
}

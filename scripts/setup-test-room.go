// Dev helper: opens a room and parks one guest in it so you can join as
// the second player from a browser. Ctrl-C releases the seat.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

const wsBase = "ws://localhost:8080/api/v1/ws"

type message struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

func main() {
	roomID := fmt.Sprintf("DEV%04d", rand.Intn(10000))
	if len(os.Args) > 1 {
		roomID = os.Args[1]
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsBase, nil)
	if err != nil {
		fmt.Printf("Failed to connect to %s: %v\n", wsBase, err)
		fmt.Println("Is the server running?")
		os.Exit(1)
	}
	defer conn.Close()

	join := message{
		Type: "join_room",
		Payload: map[string]string{
			"roomId":   roomID,
			"username": "DevOpponent",
		},
		Timestamp: time.Now().UnixMilli(),
	}
	data, _ := json.Marshal(join)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		fmt.Printf("Failed to join room: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Test Room Ready ===")
	fmt.Printf("Room ID: %s\n", roomID)
	fmt.Println("Join this room from your client to start a match.")
	fmt.Println("Press Ctrl-C to leave.")

	// Keep the connection alive and echo whatever the server sends.
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				fmt.Printf("Connection closed: %v\n", err)
				os.Exit(0)
			}
			fmt.Printf("<- %s\n", data)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	fmt.Println("Leaving room.")
}

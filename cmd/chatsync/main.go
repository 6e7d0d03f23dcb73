package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/soracho/chatsync/internal/client"
	"github.com/soracho/chatsync/internal/config"
	"github.com/soracho/chatsync/pkg/protocol"
)

func main() {
	username := flag.String("username", "", "Username for chat")
	password := flag.String("password", "", "Password for login")
	email := flag.String("email", "", "Email shown to other participants")
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("Username and password are required. Use -username and -password flags")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	token, user, err := login(cfg.LoginURL, *username, *email, *password)
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}

	c, err := client.New(client.Config{
		URL:   cfg.SocketURL,
		Token: token,
		User:  user,
		OnSignOut: func() {
			log.Println("Signed out: the server rejected the session credential")
		},
	})
	if err != nil {
		log.Fatalf("Failed to build client: %v", err)
	}

	c.Conn.Subscribe(client.EventMessageReceived, func(payload any) {
		msg, ok := payload.(protocol.Message)
		if !ok {
			return
		}
		if msg.Attachment != nil {
			kind := protocol.ClassifyFile(msg.Attachment.FileName)
			fmt.Printf("[%s] %s sent a %s: %s (%s)\n", msg.Room, msg.Sender.Username, kind, msg.Attachment.FileName, msg.Attachment.FileURL)
			return
		}
		fmt.Printf("[%s] %s: %s\n", msg.Room, msg.Sender.Username, msg.Content)
	})
	c.Conn.Subscribe(client.EventServerError, func(payload any) {
		if err, ok := payload.(error); ok {
			fmt.Printf("server error: %v\n", err)
		}
	})
	c.Conn.Subscribe(client.EventTransportError, func(payload any) {
		if err, ok := payload.(error); ok {
			fmt.Printf("connection problem: %v\n", err)
		}
	})

	if err := c.Connect(context.Background()); err != nil {
		log.Fatalf("Failed to connect to server: %v", err)
	}
	defer c.Disconnect()

	log.Printf("Connected to %s as %s", cfg.SocketURL, user.Username)
	fmt.Println("Type a message, or /help for commands ('quit' to exit):")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if strings.HasPrefix(line, "/") {
			runCommand(c, line)
			continue
		}

		if room := c.Rooms.ActiveRoomID(); room != "" {
			c.Typing.NotifyTyping(room)
		}
		if msg := c.Store.SendMessage(line); msg == nil {
			fmt.Println("No active room; /open a room first")
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Error reading input: %v", err)
	}

	log.Println("Disconnected from server")
}

func runCommand(c *client.Client, line string) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		fmt.Println("/rooms /create <name> /join <name> /open <name> /reply <id> /edit <id> <text>")
		fmt.Println("/del <id> /pin <id> /star <id> /react <id> <emoji> /upload <path> /search <query> /log")

	case "/rooms":
		for _, room := range c.Rooms.Rooms() {
			marker := " "
			if room.ID == c.Rooms.ActiveRoomID() {
				marker = "*"
			}
			fmt.Printf("%s %s (%d unread) %s\n", marker, room.Name, room.Unread, room.LastMessage)
		}

	case "/create":
		if len(args) < 1 {
			fmt.Println("usage: /create <name>")
			return
		}
		if err := c.Rooms.CreateRoom(strings.Join(args, " ")); err != nil {
			fmt.Printf("create failed: %v\n", err)
		}

	case "/join":
		if len(args) < 1 {
			fmt.Println("usage: /join <name>")
			return
		}
		if err := c.Rooms.JoinRoom(strings.Join(args, " ")); err != nil {
			fmt.Printf("join failed: %v\n", err)
		}

	case "/open":
		if len(args) < 1 {
			fmt.Println("usage: /open <name>")
			return
		}
		name := strings.Join(args, " ")
		for _, room := range c.Rooms.Rooms() {
			if room.Name == name || room.ID == name {
				if err := c.Rooms.SetActiveRoom(room.ID); err != nil {
					fmt.Printf("open failed: %v\n", err)
				}
				return
			}
		}
		fmt.Printf("unknown room %q (try /rooms)\n", name)

	case "/reply":
		if len(args) != 1 {
			fmt.Println("usage: /reply <message-id>")
			return
		}
		c.Store.ReplyTo(args[0])

	case "/edit":
		if len(args) < 2 {
			fmt.Println("usage: /edit <message-id> <new text>")
			return
		}
		if !c.Store.EditMessage(args[0], strings.Join(args[1:], " ")) {
			fmt.Println("edit rejected")
		}

	case "/del":
		if len(args) != 1 {
			fmt.Println("usage: /del <message-id>")
			return
		}
		if !c.Store.DeleteMessage(args[0]) {
			fmt.Println("delete rejected")
		}

	case "/pin":
		if len(args) != 1 {
			fmt.Println("usage: /pin <message-id>")
			return
		}
		c.Store.PinMessage(args[0])

	case "/star":
		if len(args) != 1 {
			fmt.Println("usage: /star <message-id>")
			return
		}
		c.Store.StarMessage(args[0])

	case "/react":
		if len(args) != 2 {
			fmt.Println("usage: /react <message-id> <emoji>")
			return
		}
		c.Store.React(args[0], args[1])

	case "/upload":
		if len(args) != 1 {
			fmt.Println("usage: /upload <path>")
			return
		}
		room := c.Rooms.ActiveRoomID()
		err := c.Transfer.UploadFile(args[0], room, func(resp protocol.FileUploadResponse) {
			if resp.Error != "" {
				fmt.Printf("upload failed: %s\n", resp.Error)
				return
			}
			fmt.Printf("uploaded: %s\n", resp.FileURL)
		})
		if err != nil {
			fmt.Printf("upload failed: %v\n", err)
		}

	case "/search":
		if len(args) < 1 {
			fmt.Println("usage: /search <query>")
			return
		}
		query := strings.Join(args, " ")
		for _, msg := range c.Store.FilterBySearch(c.Rooms.ActiveRoomID(), query) {
			fmt.Printf("%s %s: %s\n", msg.ID, msg.Sender.Username, msg.Content)
		}

	case "/log":
		for _, group := range client.GroupForDisplay(c.Store.Messages(c.Rooms.ActiveRoomID())) {
			fmt.Printf("%s:\n", group[0].Sender.Username)
			for _, msg := range group {
				fmt.Printf("  %s [%s] %s\n", msg.ID, msg.Status, msg.Content)
			}
		}

	default:
		fmt.Printf("unknown command %s (try /help)\n", cmd)
	}
}

// login exchanges credentials for a bearer token at the identity endpoint.
func login(url, username, email, password string) (string, protocol.Sender, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", protocol.Sender{}, err
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", protocol.Sender{}, fmt.Errorf("failed to reach identity endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", protocol.Sender{}, fmt.Errorf("login rejected: %s", resp.Status)
	}

	var result struct {
		Token string          `json:"token"`
		User  protocol.Sender `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", protocol.Sender{}, fmt.Errorf("invalid login response: %w", err)
	}
	return result.Token, result.User, nil
}

// Command line client for the chat service.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/SpeedyCraftah/go-chat-app/clients/go/chatapp"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CHAT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	client := chatapp.NewClient(baseURL)
	client.Session = os.Getenv("CHAT_SESSION")
	cmd := os.Args[1]

	switch cmd {
	case "register":
		requireArgs(5, "register <first-name> <username> <password>")
		user, err := client.Register(os.Args[2], os.Args[3], os.Args[4])
		exitOnError(err)
		fmt.Printf("registered %s (%s)\n", user.Username, user.ID)

	case "login":
		requireArgs(4, "login <username> <password>")
		exitOnError(client.Login(os.Args[2], os.Args[3]))
		fmt.Println("export CHAT_SESSION=" + client.Session)

	case "dms":
		channels, err := client.OpenDMs()
		exitOnError(err)
		for _, ch := range channels {
			fmt.Printf("  %s  %s (@%s)\n", ch.ID, ch.User.FirstName, ch.User.Username)
		}

	case "search":
		requireArgs(3, "search <username-prefix>")
		users, err := client.SearchUsers(os.Args[2], 20)
		exitOnError(err)
		for _, u := range users {
			fmt.Printf("  %s  %s (@%s)\n", u.ID, u.FirstName, u.Username)
		}

	case "open":
		requireArgs(3, "open <user-id>")
		channel, err := client.CreateDM(os.Args[2])
		exitOnError(err)
		fmt.Printf("channel %s with @%s\n", channel.ID, channel.User.Username)

	case "send":
		requireArgs(4, "send <channel-id> <content>")
		msg, err := client.SendMessage(os.Args[2], strings.Join(os.Args[3:], " "), 0)
		exitOnError(err)
		fmt.Printf("sent %s\n", msg.ID)

	case "history":
		requireArgs(3, "history <channel-id>")
		messages, err := client.FetchMessages(os.Args[2], 20, nil)
		exitOnError(err)
		for i := len(messages) - 1; i >= 0; i-- {
			printMessage(messages[i])
		}

	case "chat":
		requireArgs(3, "chat <channel-id>")
		runChat(client, os.Args[2])

	default:
		usage()
		os.Exit(1)
	}
}

// runChat connects to the gateway and bridges stdin to the channel.
func runChat(client *chatapp.Client, channelID string) {
	tracker := chatapp.NewPendingTracker(0, func(pm chatapp.PendingMessage) {
		if pm.Status == chatapp.StatusAckTimeout {
			fmt.Fprintf(os.Stderr, "no ack for %q, gateway may be stale\n", pm.Content)
		}
	})

	gw, err := client.ConnectGateway(chatapp.GatewayHandlers{
		OnNewMessage: func(msg chatapp.Message) {
			if msg.ChannelID != channelID {
				return
			}
			if msg.Nonce != 0 {
				tracker.Resolve(msg.Nonce, msg)
				return
			}
			printMessage(msg)
		},
		OnTyping: func(ev chatapp.TypingEvent) {
			if ev.ChannelID == channelID {
				fmt.Fprintln(os.Stderr, "(typing...)")
			}
		},
		OnClose: func(code int, reason string) {
			fmt.Fprintf(os.Stderr, "gateway closed: %d %s\n", code, reason)
			os.Exit(1)
		},
	})
	exitOnError(err)
	defer gw.Close()

	user, err := gw.WaitReady()
	exitOnError(err)
	fmt.Printf("connected as @%s\n", user.Username)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		content := strings.TrimSpace(scanner.Text())
		if content == "" {
			continue
		}
		nonce := tracker.NextNonce()
		tracker.Track(nonce, content)
		if _, err := client.SendMessage(channelID, content, nonce); err != nil {
			tracker.Fail(nonce)
			fmt.Fprintln(os.Stderr, "send failed:", err)
		}
	}
}

func printMessage(msg chatapp.Message) {
	ts := time.UnixMilli(msg.Date).Format("2006-01-02 15:04:05")
	fmt.Printf("[%s] %s: %s\n", ts, msg.UserID[:8], msg.Content)
	for _, att := range msg.Attachments {
		fmt.Printf("  attachment: %s (%d bytes) %s\n", att.Name, att.SizeBytes, att.URL)
	}
}

func requireArgs(n int, usageLine string) {
	if len(os.Args) < n {
		fmt.Fprintln(os.Stderr, "Usage: chat "+usageLine)
		os.Exit(1)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`chat - command line client

Commands:
  register <first-name> <username> <password>
  login <username> <password>
  dms
  search <username-prefix>
  open <user-id>
  send <channel-id> <content>
  history <channel-id>
  chat <channel-id>

Environment:
  CHAT_URL      server base URL (default http://localhost:8000)
  CHAT_SESSION  session token from login`)
}

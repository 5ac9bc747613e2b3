package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/selectcast/selectcast/go/internal/client"
)

// Interactive terminal client: type an item ID to select it, "reconnect" to
// close the circuit breaker manually, "state" to print the local snapshot.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	serverURL := getEnv("SERVER_URL", "http://localhost:8080")

	manager := client.NewManager(client.DefaultConfig(serverURL), nil, client.Signals{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager.Start(ctx)
	defer manager.Stop()

	go printNotifications(manager.Notifications())

	fmt.Printf("connected to %s. type an item id, 'reconnect', 'state', or 'quit'\n", serverURL)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigChan:
			fmt.Println("\nleaving session")
			return

		case line, ok := <-lines:
			if !ok {
				return
			}
			switch line {
			case "":
			case "quit", "exit":
				return
			case "reconnect":
				manager.Reconnect()
			case "state":
				s := manager.State()
				fmt.Printf("status=%s quality=%s item=%q version=%d sessions=%d\n",
					s.Status, s.Quality, s.DisplayedItem, s.Selection.Version, s.SessionCount)
			default:
				manager.Select(line)
			}
		}
	}
}

func printNotifications(ch <-chan client.Notification) {
	for n := range ch {
		switch n.Type {
		case client.NotificationStatus:
			fmt.Printf("[status] %s\n", n.Status)
		case client.NotificationQuality:
			fmt.Printf("[quality] %s\n", n.Quality)
		case client.NotificationState:
			fmt.Printf("[state] item=%q version=%d\n", n.DisplayedItem, n.State.Version)
		case client.NotificationCorrection:
			fmt.Printf("[corrected] server chose %q (version %d)\n", n.DisplayedItem, n.State.Version)
		case client.NotificationRejected:
			fmt.Printf("[rejected] %v, showing %q\n", n.Err, n.DisplayedItem)
		case client.NotificationSessionCount:
			fmt.Printf("[sessions] %d connected\n", n.SessionCount)
		case client.NotificationPollCountdown:
			fmt.Printf("[poll] next refresh in %ds\n", n.Countdown)
		case client.NotificationFatal:
			fmt.Printf("[fatal] %v\n", n.Err)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

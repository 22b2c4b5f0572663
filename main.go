package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"nore/chat"
	"nore/config"
	"nore/events"
	"nore/generate"
	"nore/mcp"
	"nore/provider"
	"nore/storage"
)

const (
	Version = "v0.1.0"
	License = "Apache-2.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize debug logging after config is loaded
	config.InitDebugLog(cfg.DataDir())

	store, err := storage.Open(cfg.DataDir())
	if err != nil {
		fmt.Printf("Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	bus := events.NewBus()
	defer bus.Close()

	// Conversations
	chatPersister := storage.NewChatPersister(store)
	chats, currentID, err := chatPersister.LoadChats()
	if err != nil {
		fmt.Printf("Failed to load conversations: %v\n", err)
		os.Exit(1)
	}
	conversations := chat.NewStore(chatPersister, bus)
	conversations.Rehydrate(chats, currentID)

	// Tool servers
	host := mcp.NewStdioHost(bus)
	catalog := storage.NewServerCatalog(store)
	registry := mcp.NewRegistry(host, bus, catalog)
	if configs, err := catalog.LoadServers(); err == nil {
		registry.Rehydrate(configs)
	} else if config.DebugLog != nil {
		config.DebugLog.Printf("Failed to load server catalog: %v", err)
	}
	bridge := mcp.NewBridge(registry, host)

	prov, err := provider.NewProvider(cfg.Provider)
	if err != nil {
		fmt.Printf("Failed to initialize provider: %v\n", err)
		os.Exit(1)
	}

	pipeline := generate.NewPipeline(conversations, prov, bridge, bus, cfg.Generation)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer host.Shutdown(context.Background())

	runREPL(ctx, conversations, registry, pipeline, bus)
}

// runREPL drives the core from a line-oriented prompt. A richer front
// end would subscribe to the same event bus.
func runREPL(ctx context.Context, conversations *chat.Store, registry *mcp.Registry, pipeline *generate.Pipeline, bus *events.Bus) {
	fmt.Printf("nore %s — type /help for commands\n", Version)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctx, line, conversations, registry); quit {
				return
			}
			continue
		}

		chatID := conversations.CurrentChatID()
		if chatID == "" {
			c := conversations.CreateChat(truncateTitle(line))
			chatID = c.ID
		}

		session, err := pipeline.Generate(ctx, chatID, line, nil)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		streamToStdout(session, bus)
	}
}

// streamToStdout prints deltas for one session until it settles. The
// bus drops events for slow subscribers, so the session itself is the
// terminal signal: if the final delta never arrives, settlement still
// ends the loop.
func streamToStdout(session *generate.Session, bus *events.Bus) {
	ch, cancel := bus.Subscribe(256)
	defer cancel()

	settled := make(chan struct{})
	go func() {
		session.Wait()
		close(settled)
	}()

	finish := func(err error) {
		fmt.Println()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}

	var printed int
	print := func(ev events.Event) (done bool) {
		delta, ok := ev.(events.GenerationDelta)
		if !ok || delta.MessageID != session.MessageID {
			return false
		}
		if len(delta.Content) > printed {
			fmt.Print(delta.Content[printed:])
			printed = len(delta.Content)
		}
		if delta.Done {
			finish(delta.Err)
			return true
		}
		return false
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if print(ev) {
				return
			}
		case <-settled:
			// Drain what is already buffered, then report the terminal
			// state even if the final delta was dropped.
			for {
				select {
				case ev := <-ch:
					if print(ev) {
						return
					}
				default:
					finish(session.Err())
					return
				}
			}
		}
	}
}

func runCommand(ctx context.Context, line string, conversations *chat.Store, registry *mcp.Registry) (quit bool) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println("/new [title]        start a new chat")
		fmt.Println("/chats              list chats")
		fmt.Println("/open <id>          switch chat")
		fmt.Println("/delete <id>        delete chat")
		fmt.Println("/servers            list tool servers")
		fmt.Println("/start <id>         start a tool server")
		fmt.Println("/stop <id>          stop a tool server")
		fmt.Println("/quit               exit")

	case "/new":
		title := "New Chat"
		if len(args) > 0 {
			title = strings.Join(args, " ")
		}
		c := conversations.CreateChat(title)
		fmt.Printf("Created chat %s\n", c.ID)

	case "/chats":
		current := conversations.CurrentChatID()
		for _, c := range conversations.Chats() {
			marker := " "
			if c.ID == current {
				marker = "*"
			}
			fmt.Printf("%s %s  %s (%d messages)\n", marker, c.ID, c.Title, len(c.Messages))
		}

	case "/open":
		if len(args) != 1 {
			fmt.Println("Usage: /open <id>")
			break
		}
		if err := conversations.OpenChat(args[0]); err != nil {
			fmt.Printf("Error: %v\n", err)
		}

	case "/delete":
		if len(args) != 1 {
			fmt.Println("Usage: /delete <id>")
			break
		}
		if err := conversations.DeleteChat(args[0]); err != nil {
			fmt.Printf("Error: %v\n", err)
		}

	case "/servers":
		for _, info := range registry.ListServers() {
			fmt.Printf("%-10s %s  %s\n", info.Status, info.Config.ID, info.Config.Command)
		}

	case "/start":
		if len(args) != 1 {
			fmt.Println("Usage: /start <id>")
			break
		}
		if _, err := registry.StartServer(ctx, args[0]); err != nil {
			fmt.Printf("Error: %v\n", err)
		}

	case "/stop":
		if len(args) != 1 {
			fmt.Println("Usage: /stop <id>")
			break
		}
		if _, err := registry.StopServer(ctx, args[0]); err != nil {
			fmt.Printf("Error: %v\n", err)
		}

	default:
		fmt.Printf("Unknown command %s\n", cmd)
	}

	return false
}

func truncateTitle(line string) string {
	const max = 40
	if len(line) <= max {
		return line
	}
	return line[:max] + "…"
}

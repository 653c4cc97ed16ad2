// ABOUTME: Admin CLI for chatseam project and conversation management
// ABOUTME: Operates directly on the configured store and chunk cache

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chatseam/chatseam/internal/config"
	"github.com/chatseam/chatseam/internal/retrieve"
	"github.com/chatseam/chatseam/internal/store"
)

const banner = `
        _           _                                          _           _
    ___| |__   __ _| |_ ___  ___  __ _ _ __ ___         __ _ __| |_ __ ___ (_)_ __
   / __| '_ \ / _' | __/ __|/ _ \/ _' | '_ ' _ \ _____ / _' / _' | '_ ' _ \| | '_ \
  | (__| | | | (_| | |_\__ \  __/ (_| | | | | | |_____| (_| \__,_| | | | | | | | | |
   \___|_| |_|\__,_|\__|___/\___|\__,_|_| |_| |_|      \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "projects":
		err = cmdProjects(ctx, args)
	case "conversations":
		err = cmdConversations(ctx, args)
	case "messages":
		err = cmdMessages(ctx, args)
	case "status":
		err = cmdStatus(ctx, args)
	case "index":
		err = cmdIndex(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: chatseam-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  projects list                     List all projects")
	fmt.Println("  projects create --name NAME       Create a project")
	fmt.Println("  conversations <project-id>        List a project's conversations")
	fmt.Println("  messages <conversation-id>        Dump a conversation transcript")
	fmt.Println("  status <conversation-id> <open|closed>")
	fmt.Println("                                    Set a conversation's status")
	fmt.Println("  index --project ID <file...>      Rebuild a project's chunk cache from text files")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  CHATSEAM_CONFIG    Config file path (default: ~/.config/chatseam/chatseam.yaml)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  chatseam-admin projects create --name 'Acme Docs' --site-url https://acme.example")
	fmt.Println("  chatseam-admin conversations 4f6b...")
	fmt.Println("  chatseam-admin index --project 4f6b... pages/*.txt")
	fmt.Println()
}

// getConfigPath mirrors the server's config resolution.
func getConfigPath() string {
	if envPath := os.Getenv("CHATSEAM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chatseam.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatseam", "chatseam.yaml")
}

// openStore loads the config and opens the SQLite store.
func openStore() (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, s, nil
}

func cmdProjects(ctx context.Context, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	switch sub {
	case "list":
		return projectsList(ctx)
	case "create":
		return projectsCreate(ctx, args)
	default:
		return fmt.Errorf("unknown projects subcommand: %s", sub)
	}
}

func projectsList(ctx context.Context) error {
	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	projects, err := s.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}

	if len(projects) == 0 {
		fmt.Println("No projects.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSITE URL\tCREATED")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.SiteURL, p.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func projectsCreate(ctx context.Context, args []string) error {
	var name, siteURL, systemPrompt string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name", "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			name = args[i+1]
			i++
		case "--site-url":
			if i+1 >= len(args) {
				return fmt.Errorf("--site-url requires a value")
			}
			siteURL = args[i+1]
			i++
		case "--system-prompt":
			if i+1 >= len(args) {
				return fmt.Errorf("--system-prompt requires a value")
			}
			systemPrompt = args[i+1]
			i++
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("--name flag is required")
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	project := &store.Project{
		ID:           uuid.New().String(),
		Name:         name,
		SiteURL:      siteURL,
		SystemPrompt: systemPrompt,
		CreatedAt:    time.Now(),
	}
	if err := s.CreateProject(ctx, project); err != nil {
		return fmt.Errorf("creating project: %w", err)
	}

	color.Green("Created project %s", project.ID)
	return nil
}

func cmdConversations(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: chatseam-admin conversations <project-id>")
	}
	projectID := args[0]

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	convs, err := s.ListConversations(ctx, projectID, 200)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVISITOR\tSTATUS\tTHREAD\tUPDATED")
	for _, c := range convs {
		visitor := c.VisitorID
		if c.VisitorName != "" {
			visitor = c.VisitorName
		}
		thread := c.ThreadID
		if thread == "" {
			thread = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, visitor, c.Status, thread, c.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdMessages(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: chatseam-admin messages <conversation-id>")
	}
	conversationID := args[0]

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("looking up conversation: %w", err)
	}

	messages, err := s.ListMessages(ctx, conversationID, 1000)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	for _, m := range messages {
		gray.Printf("%s ", m.CreatedAt.Format("2006-01-02 15:04:05"))
		if m.Sender == store.SenderVisitor {
			color.New(color.FgCyan).Printf("%-8s", m.Sender)
		} else {
			color.New(color.FgGreen).Printf("%-8s", m.Sender)
		}
		fmt.Printf(" %s\n", m.Content)
	}
	return nil
}

func cmdStatus(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: chatseam-admin status <conversation-id> <open|closed>")
	}
	conversationID, status := args[0], args[1]
	if status != store.StatusOpen && status != store.StatusClosed {
		return fmt.Errorf("status must be open or closed")
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.SetConversationStatus(ctx, conversationID, status); err != nil {
		return fmt.Errorf("setting status: %w", err)
	}

	color.Green("Conversation %s is now %s", conversationID, status)
	return nil
}

// cmdIndex rebuilds a project's chunk cache from plain-text files. Each file
// becomes one document; the filename serves as its title.
func cmdIndex(ctx context.Context, args []string) error {
	var projectID string
	var files []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--project" || args[i] == "-p":
			if i+1 >= len(args) {
				return fmt.Errorf("--project requires a value")
			}
			projectID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			files = append(files, args[i])
		}
	}
	if projectID == "" {
		return fmt.Errorf("--project flag is required")
	}
	if len(files) == 0 {
		return fmt.Errorf("at least one input file is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be configured for indexing (the server's in-memory cache is not reachable from the CLI)")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cache := retrieve.NewRedisChunkCache(client, cfg.Retriever.CacheTTL, logger)
	indexer := retrieve.NewIndexer(cache, retrieve.Chunker{
		Size:    cfg.Retriever.ChunkSize,
		Overlap: cfg.Retriever.ChunkOverlap,
	}, logger)

	var docs []retrieve.Document
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		docs = append(docs, retrieve.Document{
			SourceURL: path,
			Title:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Text:      string(data),
		})
	}

	count, err := indexer.Index(ctx, projectID, docs)
	if err != nil {
		return fmt.Errorf("indexing: %w", err)
	}

	color.Green("Indexed %d chunks from %d documents for project %s", count, len(docs), projectID)
	return nil
}

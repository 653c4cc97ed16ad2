// ABOUTME: Entry point for the chatseam server
// ABOUTME: Bridges widget and dashboard HTTP clients to the relay target

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/chatseam/chatseam/internal/bus"
	"github.com/chatseam/chatseam/internal/config"
	"github.com/chatseam/chatseam/internal/dedupe"
	"github.com/chatseam/chatseam/internal/gateway"
	"github.com/chatseam/chatseam/internal/ingress"
	"github.com/chatseam/chatseam/internal/reconcile"
	"github.com/chatseam/chatseam/internal/relay"
	"github.com/chatseam/chatseam/internal/responder"
	"github.com/chatseam/chatseam/internal/retrieve"
	"github.com/chatseam/chatseam/internal/store"
	"github.com/chatseam/chatseam/internal/stream"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
        _           _
    ___| |__   __ _| |_ ___  ___  __ _ _ __ ___
   / __| '_ \ / _' | __/ __|/ _ \/ _' | '_ ' _ \
  | (__| | | | (_| | |_\__ \  __/ (_| | | | | | |
   \___|_| |_|\__,_|\__|___/\___|\__,_|_| |_| |_|
`

// sweepInterval is how often the background reconciler visits open
// conversations that nobody is currently streaming.
const sweepInterval = 30 * time.Second

// getConfigPath returns the path to the chatseam config file.
// Priority: CHATSEAM_CONFIG env var > XDG_CONFIG_HOME/chatseam/chatseam.yaml > ~/.config/chatseam/chatseam.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATSEAM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chatseam.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatseam", "chatseam.yaml")
}

// getDataPath returns the path to the chatseam data directory.
// Priority: XDG_DATA_HOME/chatseam > ~/.local/share/chatseam
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "chatseam")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: chatseam <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the chatseam server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Redis.Addr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Redis:     %s\n", cfg.Redis.Addr)
	}
	if cfg.Relay.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Relay:     ")
		cyan.Print(cfg.Relay.BaseURL)
		gray.Printf(" (channel %s)", cfg.Relay.ChannelID)
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting chatseam",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	eventBus, chunks, redisClient := setupBackends(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	defer eventBus.Close()

	var relayClient relay.Client
	var reconciler *reconcile.Reconciler
	seenCache := dedupe.New(10*time.Minute, 4096)
	defer seenCache.Close()

	if cfg.Relay.Enabled {
		relayClient = relay.NewHTTPClient(cfg.Relay.BaseURL, cfg.Relay.APIToken, cfg.Relay.Timeout, logger)
		reconciler = reconcile.New(st, relayClient, eventBus, seenCache, logger)
	}

	var retriever *retrieve.Retriever
	if chunks != nil {
		retriever = retrieve.NewRetriever(chunks, nil, cfg.Retriever.TopK, cfg.Retriever.MaxContextChars, logger)
	}

	var generator ingress.Generator
	if cfg.Responder.Enabled {
		generator = responder.NewHTTPGenerator(cfg.Responder.Endpoint, cfg.Responder.APIToken, cfg.Responder.Timeout, logger)
	}

	coordinator := ingress.New(st, eventBus, relayClient, retriever, generator, ingress.Config{
		RelayChannelID: cfg.Relay.ChannelID,
		RelayBotName:   cfg.Relay.BotName,
		RelayTimeout:   cfg.Relay.Timeout,
		SystemPrompt:   cfg.Responder.SystemPrompt,
	}, logger)

	streamer := stream.NewStreamer(eventBus, cfg.Stream.PollInterval, cfg.Stream.HeartbeatInterval, logger)

	gw := gateway.New(cfg.Server.HTTPAddr, st, coordinator, streamer, reconciler, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Run(ctx)
	})
	if reconciler != nil {
		sweeper := reconcile.NewSweeper(st, reconciler, sweepInterval, logger)
		g.Go(func() error {
			return sweeper.Run(ctx)
		})
	}

	return g.Wait()
}

// setupBackends creates the event bus and chunk cache. With a Redis address
// configured, both share one client; otherwise the server falls back to
// in-memory equivalents suitable for a single process.
func setupBackends(cfg *config.Config, logger *slog.Logger) (bus.Bus, retrieve.ChunkStore, *redis.Client) {
	if cfg.Redis.Addr == "" {
		logger.Warn("redis.addr not configured, using in-memory event bus (single-process only)")
		return bus.NewMemoryBus(cfg.Redis.EventTTL), retrieve.NewMemoryChunkCache(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return bus.NewRedisBus(client, cfg.Redis.EventTTL, logger),
		retrieve.NewRedisChunkCache(client, cfg.Retriever.CacheTTL, logger),
		client
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("chatseam configuration setup")
	fmt.Println("============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "chatseam.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Redis
	fmt.Println("\n--- Redis Configuration ---")
	redisAddr := prompt(reader, "Redis address (leave empty for in-memory bus)", "localhost:6379")

	// Relay
	fmt.Println("\n--- Relay Configuration ---")
	enableRelay := prompt(reader, "Enable relay to external chat service?", "no")
	relayEnabled := strings.ToLower(enableRelay) == "yes" || strings.ToLower(enableRelay) == "y"

	var relayBaseURL, relayChannelID, relayBotName string
	if relayEnabled {
		relayBaseURL = prompt(reader, "Relay base URL", "")
		relayChannelID = prompt(reader, "Relay channel id", "")
		relayBotName = prompt(reader, "Bot display name", "chatseam")
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# chatseam configuration\n")
	cfg.WriteString("# Generated by chatseam init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("redis:\n")
	cfg.WriteString(fmt.Sprintf("  addr: \"%s\"\n", redisAddr))
	cfg.WriteString("  event_ttl: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("relay:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", relayEnabled))
	if relayEnabled {
		cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", relayBaseURL))
		cfg.WriteString("  api_token: \"${CHATSEAM_RELAY_TOKEN}\"\n")
		cfg.WriteString(fmt.Sprintf("  channel_id: \"%s\"\n", relayChannelID))
		cfg.WriteString(fmt.Sprintf("  bot_name: \"%s\"\n", relayBotName))
		cfg.WriteString("  timeout: \"8s\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("stream:\n")
	cfg.WriteString("  poll_interval: \"1s\"\n")
	cfg.WriteString("  heartbeat_interval: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  chatseam serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

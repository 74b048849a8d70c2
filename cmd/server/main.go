package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/pixelsync/pkg/datastore"
	"github.com/NicolasHaas/pixelsync/pkg/logging"
	"github.com/NicolasHaas/pixelsync/pkg/model"
	"github.com/NicolasHaas/pixelsync/pkg/server"
	"github.com/NicolasHaas/pixelsync/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()
	flags := cfg

	configFile := flag.String("config", "", "YAML config file (flags override its values)")
	flag.StringVar(&flags.Addr, "addr", cfg.Addr, "websocket bind address")
	flag.StringVar(&flags.Path, "path", cfg.Path, "websocket upgrade path")
	flag.StringVar(&flags.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for /metrics, /rooms and /chat (empty to disable)")
	flag.IntVar(&flags.MaxRoomCapacity, "max-players", cfg.MaxRoomCapacity, "maximum players per room")
	flag.StringVar(&flags.ChatDB, "chat-db", cfg.ChatDB, "SQLite chat journal path (empty keeps chat in memory)")
	flag.DurationVar(&flags.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "disconnect clients silent this long (0 disables)")
	flag.DurationVar(&flags.StatusInterval, "status-interval", cfg.StatusInterval, "interval of the status log line")
	flag.StringVar(&flags.LogLevel, "log-level", cfg.LogLevel, "Log level: "+logging.LevelNames())
	flag.StringVar(&flags.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	printConfig := flag.Bool("print-config", false, "Print the effective config as YAML and exit")
	exportChat := flag.Bool("export-chat", false, "Export the chat journal from -chat-db as YAML and exit")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	if *configFile != "" {
		if err := server.LoadConfigFile(*configFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	flag.Visit(func(f *flag.Flag) { applyFlag(&cfg, flags, f.Name) })

	if err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	if *printConfig {
		data, err := server.ExportConfigYAML(cfg)
		if err != nil {
			slog.Error("export config", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	var deps server.Dependencies
	if cfg.ChatDB != "" {
		st, err := datastore.Open(cfg.ChatDB)
		if err != nil {
			slog.Error("open chat journal", "path", cfg.ChatDB, "err", err)
			os.Exit(1)
		}
		deps.Chat = st
	}

	if *exportChat {
		if deps.Chat == nil {
			slog.Error("-export-chat needs -chat-db")
			os.Exit(1)
		}
		data, err := server.ExportChatYAML(deps.Chat, model.ChatFilters{})
		_ = deps.Chat.Close()
		if err != nil {
			slog.Error("export chat", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	slog.Info("starting pixelsync server", version.LogAttrs()...)
	srv := server.New(cfg, deps)
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// applyFlag copies an explicitly set flag over the file config.
func applyFlag(cfg *server.Config, flags server.Config, name string) {
	switch name {
	case "addr":
		cfg.Addr = flags.Addr
	case "path":
		cfg.Path = flags.Path
	case "metrics":
		cfg.MetricsAddr = flags.MetricsAddr
	case "max-players":
		cfg.MaxRoomCapacity = flags.MaxRoomCapacity
	case "chat-db":
		cfg.ChatDB = flags.ChatDB
	case "idle-timeout":
		cfg.IdleTimeout = flags.IdleTimeout
	case "status-interval":
		cfg.StatusInterval = flags.StatusInterval
	case "log-level":
		cfg.LogLevel = flags.LogLevel
	case "log-format":
		cfg.LogFormat = flags.LogFormat
	}
}

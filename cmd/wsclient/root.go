package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coregx/wsclient/internal/cliconfig"
	"github.com/coregx/wsclient/internal/logging"
	"github.com/coregx/wsclient/websocket"
	"github.com/coregx/wsclient/websocket/deflate"
)

var (
	configPath  string
	profileName string
	logLevel    string
	logFormat   string
	headers     []string
	compress    bool
	binary      bool
)

var rootCmd = &cobra.Command{
	Use:          "wsclient",
	Short:        "Talk to WebSocket servers from the command line",
	Version:      Version + " (" + Commit + ")",
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML file with connection profiles")
	pf.StringVarP(&profileName, "profile", "p", "", "profile to use (default: the file's default profile)")
	pf.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error, off")
	pf.StringVar(&logFormat, "log-format", "text", "log format: text, json")
	pf.StringArrayVarP(&headers, "header", "H", nil, "extra handshake header, \"Name: value\" (repeatable)")
	pf.BoolVar(&compress, "compress", false, "offer permessage-deflate")
	pf.BoolVar(&binary, "binary", false, "send binary instead of text messages")
}

// resolve builds the target URL and connection config from the profile and
// the command-line flags. Flags win over the profile.
func resolve(cmd *cobra.Command, args []string) (string, *websocket.Config, error) {
	var profile cliconfig.Profile
	if configPath != "" {
		f, err := cliconfig.Load(configPath)
		if err != nil {
			return "", nil, err
		}
		if profile, err = f.Profile(profileName); err != nil {
			return "", nil, err
		}
	}

	target := profile.URL
	if len(args) > 0 {
		target = args[0]
	}
	if target == "" {
		return "", nil, errors.New("no URL given and no profile URL configured")
	}

	cfg := profile.Config()
	cfg.Logger = logging.FromFlags(logLevel, logFormat, cmd.ErrOrStderr())

	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return "", nil, fmt.Errorf("invalid header %q, want \"Name: value\"", h)
		}
		if cfg.Header == nil {
			cfg.Header = make(http.Header)
		}
		cfg.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	if compress && cfg.Registry == nil {
		cfg.Registry = websocket.NewRegistry()
		deflate.Register(cfg.Registry, deflate.Options{})
	}

	return target, cfg, nil
}

// connect dials the server selected by args and flags.
func connect(ctx context.Context, cmd *cobra.Command, args []string) (*websocket.Conn, *slog.Logger, error) {
	target, cfg, err := resolve(cmd, args)
	if err != nil {
		return nil, nil, err
	}

	conn, resp, err := websocket.Dial(ctx, target, cfg)
	if err != nil {
		if resp != nil {
			return nil, nil, fmt.Errorf("connect %s: %w (HTTP %d)", target, err, resp.StatusCode)
		}
		return nil, nil, fmt.Errorf("connect %s: %w", target, err)
	}

	log := cfg.Logger.With("conn_id", conn.ID())
	log.Info("connected", "url", target, "subprotocol", conn.Subprotocol())
	return conn, log, nil
}

func messageType() websocket.MessageType {
	if binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

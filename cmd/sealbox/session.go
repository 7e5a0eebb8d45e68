package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/sealbox/backend/internal/config"
	"github.com/sealbox/backend/internal/crypto"
	"github.com/sealbox/backend/internal/envelope"
	"github.com/sealbox/backend/internal/observability"
	"github.com/sealbox/backend/internal/queue"
	"github.com/sealbox/backend/internal/quicutil"
	"github.com/sealbox/backend/internal/validation"
	"github.com/sealbox/backend/internal/wire"
)

// session is one connection to the storage peer. All requests go through
// the queue so the connection is never used by two operations at once.
type session struct {
	cfg    *config.Config
	log    *observability.Logger
	client *wire.Client
	jobs   *queue.Queue
}

// commonFlags registers the flags every networked command accepts.
func commonFlags(fs *flag.FlagSet) (configPath, server *string) {
	configPath = fs.String("config", config.DefaultConfigPath(), "Configuration file")
	server = fs.String("server", "", "Storage peer address (overrides server_address)")
	return configPath, server
}

func loadConfig(configPath, server string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if server != "" {
		cfg.ServerAddress = server
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	log := observability.NewLogger("sealbox", version, os.Stderr).WithLevel(cfg.LogLevel)

	opts := cfg.EnvelopeOptions()
	opts.Logger = log
	engine, err := envelope.NewDispatcher(opts)
	if err != nil {
		return nil, err
	}

	var caPEM []byte
	if cfg.CACertFile != "" {
		if caPEM, err = os.ReadFile(cfg.CACertFile); err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
	}
	tlsConf, err := quicutil.MakeClientTLSConfig(caPEM)
	if err != nil {
		return nil, err
	}

	conn, err := wire.DialQUIC(ctx, cfg.ServerAddress, tlsConf)
	if err != nil {
		log.ConnectionFailed(cfg.ServerAddress, err)
		return nil, err
	}

	return &session{
		cfg:    cfg,
		log:    log,
		client: wire.NewClient(conn, engine, log),
		jobs:   queue.New(4, log),
	}, nil
}

// run executes job on the session's worker and waits for its result.
func (s *session) run(ctx context.Context, name string, job queue.Job) queue.Result {
	return <-s.jobs.Submit(ctx, name, job)
}

func (s *session) Close() {
	s.jobs.Close()
	if err := s.client.Disconnect(); err != nil {
		s.log.Debug("disconnect: " + err.Error())
	}
}

// readPassword prompts for the master password. Without a terminal it
// reads one line from stdin.
func readPassword(confirm bool) (*crypto.PasswordHolder, error) {
	pw, err := promptSecret("Password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(pw)

	if err := validation.ValidatePassword(pw); err != nil {
		return nil, err
	}

	if confirm && term.IsTerminal(int(os.Stdin.Fd())) {
		again, err := promptSecret("Confirm password: ")
		if err != nil {
			return nil, err
		}
		defer crypto.Wipe(again)
		if !bytes.Equal(again, pw) {
			return nil, errors.New("passwords do not match")
		}
	}

	h := &crypto.PasswordHolder{}
	h.Set(pw)
	return h, nil
}

func promptSecret(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		return b, nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("read password: %w", err)
	}
	trimmed := bytes.TrimRight(line, "\r\n")
	out := make([]byte, len(trimmed))
	copy(out, trimmed)
	crypto.Wipe(line)
	return out, nil
}

// progressPrinter rewrites one status line on stderr.
func progressPrinter() envelope.ProgressSink {
	last := ""
	return envelope.ProgressFunc(func(text string) {
		if text == last {
			return
		}
		last = text
		fmt.Fprintf(os.Stderr, "\r\033[K%s", text)
		if text == "Error" {
			fmt.Fprintln(os.Stderr)
		}
	})
}

package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"conduit/internal/domain"
)

const (
	CLIChannelName = "cli"
	CLIChatID      = "direct"
)

// CLI implements domain.Channel for interactive terminal chat. Input lines
// become inbound messages on chat "cli:direct"; replies for that channel are
// printed above the prompt.
type CLI struct {
	prompt      string
	historyFile string
	stdin       io.ReadCloser
	stdout      io.Writer
	logger      *slog.Logger

	mu  sync.Mutex
	rl  *readline.Instance
	out io.Writer
}

type CLIConfig struct {
	Prompt      string
	HistoryFile string
	Stdin       io.ReadCloser // os.Stdin unless set
	Stdout      io.Writer     // os.Stdout unless set
	Logger      *slog.Logger
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.Prompt == "" {
		cfg.Prompt = "you> "
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		prompt:      cfg.Prompt,
		historyFile: cfg.HistoryFile,
		stdin:       cfg.Stdin,
		stdout:      cfg.Stdout,
		logger:      cfg.Logger,
		out:         cfg.Stdout,
	}
}

func (c *CLI) Name() string { return CLIChannelName }

// Start runs the prompt loop and blocks until the user quits, input ends or
// ctx is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.prompt,
		HistoryFile:     c.historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           c.stdin,
		Stdout:          c.stdout,
	})
	if err != nil {
		return fmt.Errorf("cli readline: %w", err)
	}
	c.mu.Lock()
	c.rl = rl
	c.out = rl.Stdout()
	c.mu.Unlock()
	defer c.Stop()

	bus.OnOutbound(CLIChannelName, c.deliver)

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	fmt.Fprintln(c.writer(), "Conduit interactive chat. /help lists commands, /quit exits.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			// io.EOF and reads on a closed instance both end the session.
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isQuit(line) {
			c.logger.Info("user requested quit")
			return nil
		}

		bus.PublishInbound(domain.InboundMessage{
			Channel:   CLIChannelName,
			SenderID:  "user",
			ChatID:    CLIChatID,
			Content:   line,
			Timestamp: time.Now(),
		})
	}
}

// Stop closes the prompt. It is safe to call more than once.
func (c *CLI) Stop() error {
	c.mu.Lock()
	rl := c.rl
	c.rl = nil
	c.mu.Unlock()
	if rl == nil {
		return nil
	}
	return rl.Close()
}

func (c *CLI) deliver(msg domain.OutboundMessage) {
	renderReply(c.writer(), msg)
}

func (c *CLI) writer() io.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out
}

func renderReply(w io.Writer, msg domain.OutboundMessage) {
	content := strings.TrimRight(msg.Content, "\n")
	if content == "" {
		return
	}
	fmt.Fprintf(w, "\nconduit> %s\n", content)
	for _, m := range msg.Media {
		fmt.Fprintf(w, "  [media] %s\n", m)
	}
	fmt.Fprintln(w)
}

func isQuit(line string) bool {
	switch strings.ToLower(line) {
	case "/quit", "/exit", "/q", "exit", "quit":
		return true
	}
	return false
}

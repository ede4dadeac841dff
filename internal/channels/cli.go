package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/quietloop/fennec/internal/bus"
)

const cliWrapWidth = 100

// CLIChannel is the stdin/stdout adapter used by interactive mode. One
// reader goroutine publishes lines as inbound messages; Send writes the
// agent's replies wrapped to the terminal width.
type CLIChannel struct {
	*Base
	in  io.Reader
	out io.Writer

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	onExit func()
}

func NewCLIChannel(msgBus *bus.MessageBus) *CLIChannel {
	return &CLIChannel{
		Base: NewBase("cli", msgBus, nil),
		in:   os.Stdin,
		out:  os.Stdout,
	}
}

// OnExit registers a callback invoked when the user types "exit" or stdin
// closes.
func (c *CLIChannel) OnExit(fn func()) {
	c.mu.Lock()
	c.onExit = fn
	c.mu.Unlock()
}

func (c *CLIChannel) Start(ctx context.Context) error {
	readCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.SetRunning(true)

	go c.readLoop(readCtx)
	return nil
}

func (c *CLIChannel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *CLIChannel) readLoop(ctx context.Context) {
	defer close(c.done)

	fmt.Fprint(c.out, "You: ")
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			fmt.Fprint(c.out, "You: ")
			continue
		}
		if input == "exit" || input == "quit" {
			c.fireExit()
			return
		}
		c.HandleMessage("user", "direct", input, nil, nil)
	}
	c.fireExit()
}

func (c *CLIChannel) fireExit() {
	c.mu.Lock()
	fn := c.onExit
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *CLIChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if msg.Silent || msg.Content == "" {
		fmt.Fprint(c.out, "You: ")
		return nil
	}
	fmt.Fprintf(c.out, "\n%s\n\nYou: ", WrapToWidth(msg.Content, cliWrapWidth))
	return nil
}

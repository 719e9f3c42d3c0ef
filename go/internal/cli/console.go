package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/mcdev12/focusroom/go/internal/models"
	"github.com/mcdev12/focusroom/go/internal/room"
)

const defaultHistoryLines = 10

// console serializes output from the command loop and activity listeners.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// run executes one command per input line until quit, EOF or ctx is done.
func (c *console) run(ctx context.Context, s *room.Session, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := c.exec(ctx, s, strings.Fields(line)); quit {
				return nil
			}
		}
	}
}

func (c *console) exec(ctx context.Context, s *room.Session, fields []string) (quit bool) {
	if len(fields) == 0 {
		return false
	}

	engine := s.Engine()
	var err error
	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "start":
		err = engine.Start(ctx)
	case "pause":
		err = engine.Pause(ctx)
	case "reset":
		err = engine.Reset(ctx)
	case "change":
		err = c.change(ctx, s, args)
	case "status":
		st := engine.Snapshot()
		c.printf("%s %s %s\n", st.Status, st.Clock(), st.Mode)
	case "users":
		var names []string
		for _, u := range s.Coordinator().Users() {
			names = append(names, u.UserName)
		}
		c.printf("%d online: %s\n", len(names), strings.Join(names, ", "))
	case "history":
		n := defaultHistoryLines
		if len(args) > 0 {
			if n, err = strconv.Atoi(args[0]); err != nil || n < 0 {
				c.printf("usage: history [n]\n")
				return false
			}
		}
		history := s.Store().History()
		if n < len(history) {
			history = history[len(history)-n:]
		}
		for _, a := range history {
			c.printf("  %s\n", formatActivity(a))
		}
	case "room":
		if r := s.Coordinator().Room(); r != nil {
			c.printf("%s: %d active, last active %s\n", r.RoomID, r.ActiveUsers, r.LastActive.Local().Format("15:04:05"))
		} else {
			c.printf("room metadata unavailable\n")
		}
	case "help":
		c.printf("start | pause | reset | change <minutes> [work|break] | status | users | history [n] | room | quit\n")
	case "quit", "exit":
		return true
	default:
		c.printf("unknown command %q, try help\n", cmd)
	}

	if err != nil {
		c.printf("error: %v\n", err)
	}
	return false
}

func (c *console) change(ctx context.Context, s *room.Session, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: change <minutes> [work|break]")
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid minutes %q", args[0])
	}
	mode := models.TimerModeWork
	if len(args) > 1 {
		mode = models.TimerMode(strings.ToLower(args[1]))
	}
	return s.Engine().Change(ctx, minutes, mode)
}

func formatActivity(a models.RoomActivity) string {
	line := fmt.Sprintf("%s %s %s", a.TimeStamp.Local().Format("15:04:05"), a.UserName, a.Type)
	if a.TimeRemaining != "" {
		line += " " + a.TimeRemaining
	}
	if a.TimerMode != "" {
		line += " " + string(a.TimerMode)
	}
	return line
}

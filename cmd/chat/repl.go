package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/vultisig/chat-relay/internal/session"
	"github.com/vultisig/chat-relay/internal/types"
)

const maxAttachmentSize = 10 << 20

const helpText = `commands:
  /attach <path>  stage a file for the next message
  /detach         drop the staged file
  /play <n>       play or stop speech for message n
  /theme          toggle dark/light theme
  /history        redraw the conversation
  /cancel         stop the current reply
  /quit           leave
`

func newChatCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			r := &repl{out: out}
			player := newFilePlayer(a.cfg.AudioDir, a.cfg.Player, func(path string) {
				r.println("audio saved to " + path)
			}, a.logger)
			r.sess = session.New(a.client, a.client, player, a.logger, time.Local,
				session.WithErrorHandler(func(_ string, err error) {
					r.println("playback failed: " + err.Error())
				}))
			if session.Theme(a.cfg.Theme) == session.ThemeLight {
				r.sess.ToggleTheme()
			}
			return r.run(cmd.Context(), cmd.InOrStdin())
		},
	}
}

// repl is a line-oriented chat front end. Assistant replies are printed as
// they stream in.
type repl struct {
	sess *session.Session
	out  io.Writer

	mu       sync.Mutex
	turn     *session.Turn
	streamID string
	printed  int
	finished bool
}

func (r *repl) println(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, s)
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	r.sess.OnChange(r.onChange)
	fmt.Fprint(r.out, render(r.sess.View()))
	r.println("type /help for commands")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	defer r.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				r.waitTurn()
				return nil
			}
			if r.handle(ctx, line) {
				return nil
			}
		}
	}
}

// handle executes one input line and reports whether the REPL should exit.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		r.send(ctx, line)
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		r.println(strings.TrimRight(helpText, "\n"))
	case "/attach":
		r.attach(arg)
	case "/detach":
		r.sess.Controller.CancelPendingAttachment()
		r.println("attachment removed")
	case "/play":
		r.play(ctx, arg)
	case "/theme":
		theme := r.sess.ToggleTheme()
		r.println("theme: " + string(theme))
		r.println(render(r.sess.View()))
	case "/history":
		r.println(render(r.sess.View()))
	case "/cancel":
		r.mu.Lock()
		turn := r.turn
		r.mu.Unlock()
		if turn != nil {
			turn.Cancel()
		}
	default:
		r.println("unknown command " + name + ", try /help")
	}
	return false
}

func (r *repl) send(ctx context.Context, text string) {
	r.sess.SetInput(text)
	turn, err := r.sess.Send(ctx)
	switch {
	case errors.Is(err, types.ErrBusy):
		r.println("still answering, /cancel to stop")
		return
	case errors.Is(err, types.ErrValidation):
		r.println("type a message or /attach a file")
		return
	case err != nil:
		r.println("error: " + err.Error())
		return
	}

	r.mu.Lock()
	r.turn = turn
	r.mu.Unlock()

	go func() {
		// failures after the reply started are reported by onChange
		if err := turn.Wait(); err != nil && turn.AssistantMessageID() == "" {
			r.println(newPalette(r.sess.Theme()).err.Render("! " + err.Error()))
		}
	}()
}

func (r *repl) attach(path string) {
	if path == "" {
		r.println("usage: /attach <path>")
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		r.println("error: " + err.Error())
		return
	}
	if info.Size() > maxAttachmentSize {
		r.println(fmt.Sprintf("error: %s is larger than %d bytes", path, maxAttachmentSize))
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		r.println("error: " + err.Error())
		return
	}
	f := session.File{Name: filepath.Base(path), Data: data}
	r.sess.Controller.SetPendingAttachment(f)
	r.println(fmt.Sprintf("attached %s (%s)", f.Name, f.DetectedContentType()))
}

func (r *repl) play(ctx context.Context, arg string) {
	n, err := strconv.Atoi(arg)
	messages := r.sess.Controller.Messages()
	if err != nil || n < 1 || n > len(messages) {
		r.println(fmt.Sprintf("usage: /play <1-%d>", len(messages)))
		return
	}
	m := messages[n-1]
	if strings.TrimSpace(m.Content) == "" {
		r.println("nothing to play")
		return
	}
	r.sess.Play(ctx, m.ID)
}

func (r *repl) onChange() {
	messages := r.sess.Controller.Messages()
	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	if last.Role != types.RoleAssistant {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p := newPalette(r.sess.Theme())
	if last.ID != r.streamID {
		r.streamID, r.printed, r.finished = last.ID, 0, false
		fmt.Fprintln(r.out, p.speaker(last.Role))
	}
	if r.finished {
		return
	}
	if len(last.Content) > r.printed {
		fmt.Fprint(r.out, last.Content[r.printed:])
		r.printed = len(last.Content)
	}
	switch last.Status {
	case session.StatusComplete:
		r.finished = true
		fmt.Fprintln(r.out)
	case session.StatusFailed:
		r.finished = true
		fmt.Fprintln(r.out)
		if err := r.sess.Controller.LastError(); err != nil {
			fmt.Fprintln(r.out, p.err.Render("! "+err.Error()))
		}
	}
}

func (r *repl) waitTurn() {
	r.mu.Lock()
	turn := r.turn
	r.mu.Unlock()
	if turn != nil {
		_ = turn.Wait()
	}
}

func (r *repl) shutdown() {
	r.mu.Lock()
	turn := r.turn
	r.mu.Unlock()
	if turn != nil {
		turn.Cancel()
		_ = turn.Wait()
	}
	r.sess.Playback.Wait()
}

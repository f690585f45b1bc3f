package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gridsync/internal/client"
	"gridsync/internal/engine"
	"gridsync/internal/game"
)

// WalkOptions holds flags for the walk command.
type WalkOptions struct {
	*RootOptions
	URL  string
	Room string
	Nick string
}

// NewWalkCommand creates the walk command, a terminal client for the
// demo grid room.
func NewWalkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WalkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "walk",
		Short: "Join a grid room from the terminal",
		Long: `Join a grid room and walk a player around.

Type w, a, s or d followed by enter to step one tile; a line of several
letters queues several steps. Type q to leave.

Example:
  gridsync walk --url ws://localhost:8080/ws --room lobby`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWalk(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "ws://localhost:8080/ws", "websocket endpoint")
	cmd.Flags().StringVar(&opts.Room, "room", "lobby", "room to join")
	cmd.Flags().StringVar(&opts.Nick, "nick", "", "player name (random when empty)")

	return cmd
}

func runWalk(cmd *cobra.Command, opts *WalkOptions) error {
	nick := opts.Nick
	if nick == "" {
		nick = client.GenName()
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		select {
		case <-sigc:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := client.Dial(ctx, opts.URL, client.WithLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	defer conn.Close()

	eng := engine.New(opts.Room, game.EngineFuncs(nick), game.EngineOptions(), conn, conn)

	conn.OnSync(func() {
		if err := joinRoom(conn, eng); err != nil {
			slog.Error("joining room failed", "room", opts.Room, "error", err)
			cancel()
			return
		}
		px := float64(rand.Intn(game.WorldCols)) * game.TileSize
		py := float64(rand.Intn(game.WorldRows)) * game.TileSize
		if _, err := eng.Submit(game.SpawnPost(nick, px, py)); err != nil {
			slog.Error("spawn failed", "error", err)
			cancel()
		}
	})

	steps := make(chan byte, 64)
	go readSteps(ctx, cmd.InOrStdin(), steps, cancel)
	go walkSteps(ctx, eng, nick, steps)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		case <-ticker.C:
			state, err := eng.ComputeRenderState()
			if err != nil {
				continue
			}
			fmt.Fprint(cmd.OutOrStdout(), renderGrid(state, nick))
		}
	}
}

// joinRoom subscribes the engine to the room's broadcasts and replays the
// full history. The replay must start at index 0: the first confirmed
// post anchors the simulation's initial tick, and without it every state
// query keeps returning the empty initial state.
func joinRoom(conn *client.Conn, eng *engine.Engine[game.State]) error {
	if err := conn.Watch(eng.Room(), eng.HandleInfoPost); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := conn.Load(eng.Room(), 0, nil); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	return nil
}

func readSteps(ctx context.Context, in io.Reader, steps chan<- byte, cancel context.CancelFunc) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		for _, ch := range strings.ToLower(scanner.Text()) {
			switch ch {
			case 'w', 'a', 's', 'd':
				select {
				case steps <- byte(ch):
				case <-ctx.Done():
					return
				}
			case 'q':
				cancel()
				return
			}
		}
	}
	cancel()
}

// walkSteps turns each queued letter into a press and release pair held
// long enough to cross one tile.
func walkSteps(ctx context.Context, eng *engine.Engine[game.State], nick string, steps <-chan byte) {
	// One tile takes four ticks at the shared tick rate, about 167ms.
	stepDuration := 4 * time.Second / game.TickRate
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-steps:
			key := string(ch)
			if _, err := eng.Submit(game.KeyPost(nick, key, true)); err != nil {
				// A step typed before the first clock sample, or during a
				// transient send failure, is dropped rather than killing
				// input for the rest of the session.
				slog.Warn("step dropped", "key", key, "error", err)
				continue
			}
			select {
			case <-time.After(stepDuration):
			case <-ctx.Done():
				return
			}
			if _, err := eng.Submit(game.KeyPost(nick, key, false)); err != nil {
				slog.Warn("key release dropped", "key", key, "error", err)
			}
		}
	}
}

func renderGrid(state game.State, self string) string {
	var b strings.Builder
	b.WriteString("\033[H\033[2J")

	cells := make(map[[2]int]rune, len(state))
	for nick, p := range state {
		col := int(p.PX / game.TileSize)
		row := int(p.PY / game.TileSize)
		mark := rune(nick[0])
		if nick == self {
			mark = '@'
		}
		cells[[2]int{col, row}] = mark
	}

	b.WriteString("+" + strings.Repeat("-", game.WorldCols) + "+\n")
	for row := 0; row < game.WorldRows; row++ {
		b.WriteByte('|')
		for col := 0; col < game.WorldCols; col++ {
			if mark, ok := cells[[2]int{col, row}]; ok {
				b.WriteRune(mark)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteString("|\n")
	}
	b.WriteString("+" + strings.Repeat("-", game.WorldCols) + "+\n")
	fmt.Fprintf(&b, "%s  w/a/s/d + enter to walk, q to quit\n", self)
	return b.String()
}

// Package cli implements the operator console: population and race
// tables, kicks, and a clean shutdown command.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/slopcrew-project/slopcrew/internal/db"
	"github.com/slopcrew-project/slopcrew/internal/events"
	"github.com/slopcrew-project/slopcrew/internal/server"
	"github.com/slopcrew-project/slopcrew/internal/util"
)

// RaceArchive lists recently ranked races.
type RaceArchive interface {
	Recent(ctx context.Context, limit int) ([]db.RaceRecord, error)
}

// KickArchive lists recorded kicks by address.
type KickArchive interface {
	ByAddress(ctx context.Context, address string) ([]db.Kick, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	relay    *server.Server
	eventBus *events.EventBus
	races    RaceArchive
	kicks    KickArchive
	in       io.Reader
	out      io.Writer
	logger   zerolog.Logger
}

// NewCLI creates a console reading commands from in and writing to out.
func NewCLI(relay *server.Server, eventBus *events.EventBus, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		relay:    relay,
		eventBus: eventBus,
		in:       in,
		out:      out,
		logger:   util.ComponentLogger("cli"),
	}
}

// SetArchives injects the optional database-backed archives.
func (c *CLI) SetArchives(races RaceArchive, kicks KickArchive) {
	c.races = races
	c.kicks = kicks
}

// Start runs the command loop until ctx is cancelled, input ends or quit
// is entered.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nSlopCrew console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn().Err(err).Msg("console input failed")
		}
	}()

	for {
		fmt.Fprint(c.out, "slopcrew> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}

// execute processes a single command and reports whether the console
// should exit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "p":
		c.printPlayers()
	case "stages":
		c.printStages()
	case "races":
		c.printLiveRaces()
	case "history":
		return false, c.printHistory(ctx, args)
	case "kick":
		return false, c.cmdKick(args)
	case "kicks":
		return false, c.printKicks(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down SlopCrew...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  status              Connection, population and tick counters
  players             List active players
  stages              Player and race pool counts per stage
  races               List live race sessions
  history [n]         Show the last n archived races
  kick <id> [reason]  Disconnect a player
  kicks <address>     Show recorded kicks for an address
  quit                Shut the relay down
  help                Show this help message`)
}

func (c *CLI) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	stats := c.relay.Registry().Stats()
	fmt.Fprintf(c.out, "  Connections:  %d\n", stats.Connections)
	fmt.Fprintf(c.out, "  Population:   %d\n", stats.Population)
	fmt.Fprintf(c.out, "  Tick:         %d\n", c.relay.CurrentTick())
	fmt.Fprintf(c.out, "  Live races:   %d\n", len(c.relay.Races().Sessions()))
}

func (c *CLI) printPlayers() {
	players := c.relay.Registry().Players()
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players connected")
		return
	}
	tw := c.newTable("ID", "Name", "Stage", "Dev", "Address")
	for _, p := range players {
		dev := ""
		if p.IsDeveloper {
			dev = "yes"
		}
		tw.Append([]string{
			strconv.FormatUint(uint64(p.ID), 10),
			p.Name,
			strconv.Itoa(int(p.Stage)),
			dev,
			p.Address,
		})
	}
	tw.Render()
}

func (c *CLI) printStages() {
	players := c.relay.Registry().Stages()
	pooled := c.relay.Races().Pooled()

	stages := make([]int32, 0, len(players))
	for stage := range players {
		stages = append(stages, stage)
	}
	for stage := range pooled {
		if _, ok := players[stage]; !ok {
			stages = append(stages, stage)
		}
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })

	tw := c.newTable("Stage", "Players", "Race Pool")
	for _, stage := range stages {
		tw.Append([]string{
			strconv.Itoa(int(stage)),
			strconv.Itoa(players[stage]),
			strconv.Itoa(pooled[stage]),
		})
	}
	tw.Render()
}

func (c *CLI) printLiveRaces() {
	sessions := c.relay.Races().Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(c.out, "No live races")
		return
	}
	tw := c.newTable("Race", "Stage", "State", "Racers", "Ready", "Finished", "Age")
	for _, s := range sessions {
		tw.Append([]string{
			s.ID,
			strconv.Itoa(int(s.Stage)),
			s.State.String(),
			strconv.Itoa(s.Racers),
			strconv.Itoa(s.Ready),
			strconv.Itoa(s.Finished),
			time.Since(s.Created).Truncate(time.Second).String(),
		})
	}
	tw.Render()
}

func (c *CLI) printHistory(ctx context.Context, args []string) error {
	if c.races == nil {
		return fmt.Errorf("race archive disabled")
	}
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}
	records, err := c.races.Recent(ctx, limit)
	if err != nil {
		return err
	}
	tw := c.newTable("Race", "Stage", "Ended", "Rank", "Player", "Time")
	for _, r := range records {
		for _, res := range r.Results {
			tw.Append([]string{
				r.ID,
				strconv.Itoa(int(r.Stage)),
				r.EndedAt.Format(time.RFC3339),
				strconv.Itoa(int(res.Rank)),
				res.Name,
				strconv.FormatFloat(float64(res.Time), 'f', 2, 32),
			})
		}
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <id> [reason]")
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid player id: %s", args[0])
	}
	reason := strings.Join(args[1:], " ")
	if reason == "" {
		reason = "kicked by operator"
	}
	if !c.relay.Kick(uint32(id), reason) {
		return fmt.Errorf("player %d not found", id)
	}
	fmt.Fprintf(c.out, "Kicked player %d\n", id)
	return nil
}

func (c *CLI) printKicks(ctx context.Context, args []string) error {
	if c.kicks == nil {
		return fmt.Errorf("kick log disabled")
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: kicks <address>")
	}
	kicks, err := c.kicks.ByAddress(ctx, args[0])
	if err != nil {
		return err
	}
	if len(kicks) == 0 {
		fmt.Fprintf(c.out, "No kicks recorded for %s\n", args[0])
		return nil
	}
	tw := c.newTable("When", "Player", "Name", "Reason")
	for _, k := range kicks {
		tw.Append([]string{
			k.CreatedAt.Format(time.RFC3339),
			strconv.FormatUint(uint64(k.PlayerID), 10),
			k.Name,
			k.Reason,
		})
	}
	tw.Render()
	return nil
}

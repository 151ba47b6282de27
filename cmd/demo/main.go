// Command demo is the CLI driver for the record store. It opens one data
// file for the life of the process and runs a REPL over it, exercising
// the public engine operations: insert, read, update, transaction
// control, checkpointing, crash simulation, and recovery.
//
// Grounded on the teacher's top-level main.go bufio.Scanner REPL loop
// (prompt, read a line, dispatch, repeat until EOF or "exit"), with each
// line's command dispatched through typed kong subcommands the way
// FocuswithJustin-JuniperBible's cmd/capsule driver structures its
// commands. Unlike a one-shot CLI, the REPL keeps a single *engine.Engine
// alive across every line so a begin/update/commit sequence spans
// commands against the same open transaction, matching the teacher's
// session-lifetime database handle.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/achehboune/recordvault/engine"
	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// CLI is the REPL command grammar. It is parsed fresh for every line of
// input against the one *engine.Engine bound for the process's lifetime,
// via kong's Run-method argument injection.
var CLI struct {
	Insert     InsertCmd     `cmd:"" help:"Insert a record"`
	Read       ReadCmd       `cmd:"" help:"Read a record by id"`
	Update     UpdateCmd     `cmd:"" help:"Update a record in place"`
	Page       PageCmd       `cmd:"" help:"Print the decoded records on a page"`
	Begin      BeginCmd      `cmd:"" help:"Begin a transaction"`
	Commit     CommitCmd     `cmd:"" help:"Commit the open transaction"`
	Rollback   RollbackCmd   `cmd:"" help:"Roll back the open transaction"`
	Checkpoint CheckpointCmd `cmd:"" help:"Flush dirty pages and write a checkpoint"`
	Crash      CrashCmd      `cmd:"" help:"Simulate a crash, discarding in-memory state"`
	Recover    RecoverCmd    `cmd:"" help:"Run recovery against the journal"`
	Journal    JournalCmd    `cmd:"" help:"Print the journal"`
	Stats      StatsCmd      `cmd:"" help:"Print buffer pool statistics"`
	Exit       ExitCmd       `cmd:"" aliases:"quit" help:"Exit the REPL"`
}

// errExit unwinds the REPL loop when the exit command runs.
var errExit = errors.New("exit")

// helpRequested is panicked by kong's Exit callback after it prints
// --help/usage text, so the REPL can recover and keep prompting instead
// of the process dying the way a one-shot CLI would.
type helpRequested struct{}

type InsertCmd struct {
	Payload string `arg:"" help:"Payload to store"`
	Sync    bool   `help:"Force the page to disk after insert"`
}

func (c *InsertCmd) Run(e *engine.Engine) error {
	var recordID int64
	var err error
	if c.Sync {
		recordID, err = e.InsertRecordSync([]byte(c.Payload))
	} else {
		recordID, err = e.InsertRecord([]byte(c.Payload))
	}
	if err != nil {
		return err
	}

	fmt.Printf("inserted record %d (%s bytes)\n", recordID, humanize.Bytes(uint64(len(c.Payload))))
	return nil
}

type ReadCmd struct {
	RecordID int64 `arg:"" help:"Record id to read"`
}

func (c *ReadCmd) Run(e *engine.Engine) error {
	payload, err := e.ReadRecord(c.RecordID)
	if err != nil {
		return err
	}

	fmt.Printf("record %d: %q\n", c.RecordID, payload)
	return nil
}

type UpdateCmd struct {
	RecordID int64  `arg:"" help:"Record id to update"`
	Payload  string `arg:"" help:"New payload"`
}

func (c *UpdateCmd) Run(e *engine.Engine) error {
	if err := e.UpdateRecord(c.RecordID, []byte(c.Payload)); err != nil {
		return err
	}

	fmt.Printf("updated record %d\n", c.RecordID)
	return nil
}

type PageCmd struct {
	PageID int64 `arg:"" help:"Page number to print"`
}

func (c *PageCmd) Run(e *engine.Engine) error {
	records, err := e.GetPage(c.PageID)
	if err != nil {
		return err
	}

	first := c.PageID * 40
	for i, payload := range records {
		fmt.Printf("record %d: %q\n", first+int64(i), payload)
	}
	return nil
}

type BeginCmd struct{}

func (c *BeginCmd) Run(e *engine.Engine) error {
	if err := e.Begin(); err != nil {
		return err
	}
	fmt.Println("transaction started")
	return nil
}

type CommitCmd struct{}

func (c *CommitCmd) Run(e *engine.Engine) error {
	if err := e.Commit(); err != nil {
		return err
	}
	fmt.Println("committed")
	return nil
}

type RollbackCmd struct{}

func (c *RollbackCmd) Run(e *engine.Engine) error {
	if err := e.Rollback(); err != nil {
		return err
	}
	fmt.Println("rolled back")
	return nil
}

type CheckpointCmd struct{}

func (c *CheckpointCmd) Run(e *engine.Engine) error {
	if err := e.Checkpoint(); err != nil {
		return err
	}
	fmt.Println("checkpoint complete")
	return nil
}

type CrashCmd struct{}

func (c *CrashCmd) Run(e *engine.Engine) error {
	e.Crash()
	fmt.Println("crash simulated: in-memory state discarded")
	return nil
}

type RecoverCmd struct{}

func (c *RecoverCmd) Run(e *engine.Engine) error {
	result, err := e.Recover()
	if err != nil {
		return err
	}

	fmt.Printf("recovery complete: scanned %s entries, redo %s, undo %s, record_count %s\n",
		humanize.Comma(int64(result.EntriesScanned)),
		humanize.Comma(int64(result.RedoApplied)),
		humanize.Comma(int64(result.UndoApplied)),
		humanize.Comma(result.FinalCount),
	)
	return nil
}

type JournalCmd struct{}

func (c *JournalCmd) Run(e *engine.Engine) error {
	return e.PrintJournal(os.Stdout)
}

type StatsCmd struct{}

func (c *StatsCmd) Run(e *engine.Engine) error {
	s := e.Stats()
	fmt.Printf("pages: %s total, %s pinned, %s dirty, capacity %s\n",
		humanize.Comma(int64(s.TotalPages)),
		humanize.Comma(int64(s.PinnedPages)),
		humanize.Comma(int64(s.DirtyPages)),
		humanize.Comma(int64(s.Capacity)),
	)
	return nil
}

type ExitCmd struct{}

func (c *ExitCmd) Run(e *engine.Engine) error {
	return errExit
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: demo <data-file>")
		os.Exit(1)
	}
	dataFile := os.Args[1]

	log := logrus.StandardLogger()
	e, err := engine.Open(dataFile, engine.WithLogger(log), engine.WithRecordCache(1024))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer e.Close()

	parser, err := kong.New(&CLI,
		kong.Name("demo"),
		kong.Description("Exercises the record store's public operations."),
		kong.Exit(func(int) { panic(helpRequested{}) }),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	repl(parser, e)
}

// repl reads one command per line from stdin and dispatches it against
// the single engine e, until EOF (Ctrl+D) or the exit command.
func repl(parser *kong.Kong, e *engine.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("db> ")

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if run(parser, e, line) {
			break
		}
	}
}

// run dispatches one REPL line and reports whether the loop should stop.
func run(parser *kong.Kong, e *engine.Engine, line string) (stop bool) {
	defer func() {
		// kong.Exit fires on --help; recovering keeps the REPL alive
		// instead of letting it kill the process the way a one-shot CLI
		// would.
		if r := recover(); r != nil {
			if _, ok := r.(helpRequested); !ok {
				fmt.Fprintln(os.Stderr, "error:", r)
			}
		}
	}()

	ctx, err := parser.Parse(strings.Fields(line))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return false
	}

	if err := ctx.Run(e); err != nil {
		if errors.Is(err, errExit) {
			return true
		}
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return false
}

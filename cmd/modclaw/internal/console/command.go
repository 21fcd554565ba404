package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/sipeed/modclaw/cmd/modclaw/internal"
	"github.com/sipeed/modclaw/cmd/modclaw/internal/seed"
	"github.com/sipeed/modclaw/pkg/config"
	"github.com/sipeed/modclaw/pkg/logger"
)

func NewConsoleCommand() *cobra.Command {
	var (
		as    string
		debug bool
	)

	cmd := &cobra.Command{
		Use:     "console",
		Aliases: []string{"c"},
		Short:   "Open an interactive chat console",
		Example: `modclaw console --as mod`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return consoleCmd(cmd.Context(), as, debug)
		},
	}

	cmd.Flags().StringVar(&as, "as", "admin", "User to chat as")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func consoleCmd(ctx context.Context, as string, debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	app, err := internal.NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Storage.Driver == config.DriverMemory {
		if _, err := seed.Populate(ctx, app.Backend, app.Stores, time.Now().UTC()); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	rl, rlErr := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     filepath.Join(config.ResolveRuntimePaths().HistoryDir, ".console_history"),
		HistoryLimit:    500,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	var out io.Writer = os.Stdout
	if rlErr == nil {
		defer rl.Close()
		out = rl.Stdout()
	}

	c := New(app, out)
	if err := c.SwitchActor(ctx, as); err != nil {
		return err
	}

	app.StartMaintenance(ctx)
	go app.Bus.Run(ctx)
	go c.Deliver(ctx)

	fmt.Fprintf(out, "%s modclaw console. Type /help for commands, :as <user> to switch users, exit to quit.\n", internal.Logo)

	if rlErr != nil {
		fmt.Printf("Error initializing readline: %v\n", rlErr)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(ctx, c)
		return nil
	}

	for {
		rl.SetPrompt(c.Prompt())
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Fprintln(out, "Goodbye!")
				return nil
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}
		if !c.Submit(ctx, line) {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
	}
}

func simpleInteractiveMode(ctx context.Context, c *Console) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print(c.Prompt())
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !c.Submit(ctx, line) {
			fmt.Println("Goodbye!")
			return
		}
	}
}

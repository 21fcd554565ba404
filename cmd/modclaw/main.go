// ModClaw - Chat command engine for live-chat moderation
// License: MIT
//
// Copyright (c) 2026 ModClaw contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sipeed/modclaw/cmd/modclaw/internal"
	"github.com/sipeed/modclaw/cmd/modclaw/internal/commandscmd"
	"github.com/sipeed/modclaw/cmd/modclaw/internal/console"
	"github.com/sipeed/modclaw/cmd/modclaw/internal/seed"
	"github.com/sipeed/modclaw/cmd/modclaw/internal/version"
)

func NewModclawCommand() *cobra.Command {
	short := fmt.Sprintf("%s modclaw - chat moderation commands v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "modclaw",
		Short:   short,
		Example: "modclaw console --as mod",
	}

	cmd.AddCommand(
		console.NewConsoleCommand(),
		commandscmd.NewCommandsCommand(),
		seed.NewSeedCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewModclawCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

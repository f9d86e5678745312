package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"southwinds.dev/opvault/rpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve vault requests over stdio",
	Long: `Serve framed JSON requests on stdin/stdout for use as a browser
native-messaging host. The session starts locked; the client sends an
unlock request carrying the vault path and master password.`,
	RunE: serveHost,
}

var serveDebug bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "log individual requests to stderr")
}

func serveHost(cmd *cobra.Command, args []string) error {
	session, err := newSession()
	if err != nil {
		return err
	}
	defer session.Lock()

	// stdout carries frames, so all logging goes to stderr.
	level := zerolog.WarnLevel
	if serveDebug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("component", "host").
		Logger()

	host := rpc.NewHost(rpc.NewDispatcher(session, log), os.Stdin, os.Stdout, log)
	if err := host.Run(cmd.Context()); err != nil {
		return fmt.Errorf("host terminated: %w", err)
	}
	return nil
}

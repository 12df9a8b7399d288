package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/config"
	"github.com/victornm/livequiz/internal/server"
	"github.com/victornm/livequiz/internal/telemetry"
)

const envPrefix = "LIVEQUIZ"

var version = "dev"

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	if err := newCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "livequiz",
		Short:         "Real-time multiplayer quiz server.",
		Args:          cobra.NoArgs,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return serve(c)
		},
	}

	fs := cmd.PersistentFlags()
	fs.StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to the config file (env: CONFIG_PATH)")

	cmd.AddCommand(newInspectCmd())
	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetVersionTemplate("livequiz {{.Version}}\n")

	return cmd
}

func newInspectCmd() *cobra.Command {
	var (
		addr        string
		leaderboard bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <code>",
		Short: "Print the state of a running game.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			client := api.NewQuizServiceClient(conn)
			get := client.GetSession
			if leaderboard {
				get = client.GetLeaderboard
			}

			resp, err := get(ctx, args[0])
			if err != nil {
				return err
			}

			b, err := protojson.MarshalOptions{Multiline: true}.Marshal(resp)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&addr, "addr", "localhost:9090", "gRPC address of the server")
	fs.BoolVarP(&leaderboard, "leaderboard", "l", false, "print the leaderboard instead of the session")
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	return cmd
}

func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()
	if err := config.Load(path, &c, config.WithEnvPrefix(envPrefix)); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}

func serve(c server.Config) error {
	if err := telemetry.SetupLogger(os.Stdout, c.Log.Level, c.Log.Format); err != nil {
		return err
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	go s.Start()

	<-shutdown
	s.Shutdown()
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tinychat/tinychat/internal/profile"
	"github.com/tinychat/tinychat/plugin/ai"
	"github.com/tinychat/tinychat/server"
	"github.com/tinychat/tinychat/server/generation"
	"github.com/tinychat/tinychat/store"
	"github.com/tinychat/tinychat/store/db"
)

const instructions = "You are a helpful assistant. Conversation turns are prefixed with a role heading in square brackets; reply to the latest user turn."

var (
	rootCmd = &cobra.Command{
		Use:   "tinychat",
		Short: "A conversational assistant server with branching chats and long-term memory",
		Run: func(_ *cobra.Command, _ []string) {
			serverProfile := &profile.Profile{
				Mode:    viper.GetString("mode"),
				Addr:    viper.GetString("addr"),
				Port:    viper.GetInt("port"),
				Data:    viper.GetString("data"),
				Driver:  viper.GetString("driver"),
				DSN:     viper.GetString("dsn"),
				Version: version,
			}
			serverProfile.FromEnv()
			if err := serverProfile.Validate(); err != nil {
				slog.Error("invalid configuration", "error", err)
				os.Exit(1)
			}
			if serverProfile.IsDev() {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx, serverProfile); err != nil {
				slog.Error("server exited", "error", err)
				os.Exit(1)
			}
		},
	}

	version = "0.1.0"
)

func run(ctx context.Context, p *profile.Profile) error {
	driver, err := db.NewDriver(p)
	if err != nil {
		return fmt.Errorf("failed to create db driver: %w", err)
	}
	if err := driver.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	st := store.New(driver, p)

	model, err := ai.NewOpenAI(&ai.Config{
		BaseURL:        p.AIBaseURL,
		APIKey:         p.AIAPIKey,
		ChatModel:      p.AIChatModel,
		EmbeddingModel: p.AIEmbeddingModel,
	})
	if err != nil {
		return fmt.Errorf("failed to create model service: %w", err)
	}

	s, err := server.NewServer(ctx, p, st, model, generation.Options{Instructions: instructions})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := s.Start(groupCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		s.Shutdown(context.Background())
		return nil
	})
	return group.Wait()
}

func init() {
	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of the server")
	rootCmd.PersistentFlags().String("data", ".", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", `database driver, can be "sqlite" or "postgres"`)
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("tinychat")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/perch/broker"
	"github.com/vx-labs/perch/cmd/internal/settings"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func main() {
	config := viper.New()
	config.SetEnvPrefix(settings.EnvPrefix)
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()

	cmd := cobra.Command{
		Use: "perch",
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			config.BindPFlags(cmd.Flags())
			config.BindPFlags(cmd.PersistentFlags())
			settings.ReadConfigFile(config)
		},
		Run: func(cmd *cobra.Command, _ []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			ctx = broker.StoreLogger(ctx, getLogger(config))
			if config.GetBool("pprof") {
				address := fmt.Sprintf("%s:%d", config.GetString("pprof-address"), config.GetInt("pprof-port"))
				go func() {
					mux := http.NewServeMux()
					mux.HandleFunc("/debug/pprof/", pprof.Index)
					mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
					mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
					mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
					mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
					broker.L(ctx).Error("pprof server stopped", zap.Error(http.ListenAndServe(address, mux)))
				}()
				broker.L(ctx).Info("started pprof", zap.String("pprof_url", fmt.Sprintf("http://%s/", address)))
			}
			started := time.Now()
			b, err := broker.Open(ctx, settings.Broker(config))
			if err != nil {
				broker.L(ctx).Fatal("failed to open broker", zap.Error(err))
			}
			broker.L(ctx).Info("broker opened", zap.String("data_dir", config.GetString("data-dir")),
				zap.Duration("broker_open_duration", time.Since(started)))

			adminAddress := net.JoinHostPort(config.GetString("admin-address"), fmt.Sprintf("%d", config.GetInt("admin-port")))
			adminServer := &http.Server{
				Addr:         adminAddress,
				Handler:      newAdminRouter(b, broker.L(ctx)),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			go func() {
				err := adminServer.ListenAndServe()
				if err != nil && err != http.ErrServerClosed {
					broker.L(ctx).Fatal("admin server crashed", zap.Error(err))
				}
			}()
			broker.L(ctx).Info("started admin server", zap.String("admin_url", fmt.Sprintf("http://%s/", adminAddress)))

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc,
				syscall.SIGINT,
				syscall.SIGTERM,
				syscall.SIGQUIT)
			<-sigc
			broker.L(ctx).Info("perch shutdown initiated")
			shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 5*time.Second)
			err = adminServer.Shutdown(shutdownCtx)
			cancelShutdown()
			if err != nil {
				broker.L(ctx).Error("failed to shutdown admin server", zap.Error(err))
			} else {
				broker.L(ctx).Debug("admin server stopped")
			}
			err = b.Close()
			if err != nil {
				broker.L(ctx).Error("failed to close broker", zap.Error(err))
			} else {
				broker.L(ctx).Debug("broker closed")
			}
			broker.L(ctx).Info("perch successfully stopped")
		},
	}
	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration.",
		Run: func(cmd *cobra.Command, _ []string) {
			c := settings.Broker(config)
			if err := c.Validate(); err != nil {
				log.Fatal(err)
			}
			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			defer encoder.Close()
			if err := encoder.Encode(c); err != nil {
				log.Fatal(err)
			}
		},
	}
	cmd.AddCommand(configCommand)

	settings.Register(&cmd)
	cmd.PersistentFlags().Bool("debug", false, "Use a fancy logger and increase logging level.")
	cmd.PersistentFlags().String("log-level", "info", "Logging level when not in debug mode.")

	cmd.Flags().Bool("pprof", false, "Start pprof endpoint.")
	cmd.Flags().Int("pprof-port", 8080, "Profiling (pprof) port.")
	cmd.Flags().String("pprof-address", "127.0.0.1", "Profiling (pprof) address.")
	cmd.Flags().String("admin-address", "::", "Admin HTTP server listening address.")
	cmd.Flags().Int("admin-port", 8090, "Admin HTTP server port, serving health, metrics and streams.")
	cmd.Execute()
}

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/rota"
)

// loadConfig reads the file named by --config, or returns the defaults.
func loadConfig(v *viper.Viper) (rota.Config, string, error) {
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		return rota.DefaultConfig(), "", nil
	}

	cfg, err := rota.LoadConfigFile(path)
	if err != nil {
		return rota.Config{}, "", fmt.Errorf("config file %q: %w", path, err)
	}

	return cfg, path, nil
}

func newConfigCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect rotad configuration",
	}
	cmd.AddCommand(newConfigPrintCommand(v), newConfigValidateCommand(v))

	return cmd
}

func newConfigPrintCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(v)
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)

			return err
		},
	}
}

func newConfigValidateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and report questionable settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%w: %w", rota.ErrInvalidConfig, err)
			}

			w := &warningPrinter{out: cmd.OutOrStdout()}
			cfg.ValidateWithWarnings(w)
			if path == "" {
				path = "defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d warning(s)\n", path, w.count)

			return w.err
		},
	}
}

// warningPrinter is the logger handed to ValidateWithWarnings by the
// validate command; only Warn is expected.
type warningPrinter struct {
	out   io.Writer
	count int
	err   error
}

func (w *warningPrinter) Warn(msg string, keysAndValues ...any) {
	w.count++
	var b strings.Builder
	b.WriteString("warning: ")
	b.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	b.WriteByte('\n')
	if _, err := w.out.Write([]byte(b.String())); err != nil && w.err == nil {
		w.err = err
	}
}

func (w *warningPrinter) Debug(string, ...any) {}
func (w *warningPrinter) Info(string, ...any)  {}
func (w *warningPrinter) Error(string, ...any) {}
func (w *warningPrinter) Fatal(string, ...any) {}

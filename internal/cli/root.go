// Package cli implements the quill command-line front end.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gogpu/quill"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	envFile    string
	logLevel   string

	cfg    quill.Config
	logger *slog.Logger
}

// NewRootCmd builds the quill command tree.
func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "quill",
		Short:         "Multi-resolution image editing",
		Long:          "Edit images with an undoable filter history and keep their preview thumbnails up to date.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "YAML configuration file (default: $QUILL_CONFIG)")
	root.PersistentFlags().StringVar(&o.envFile, "env-file", ".env", "dotenv file with QUILL_* overrides")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error (default from configuration)")

	root.AddCommand(
		newEditCmd(o),
		newThumbnailsCmd(o),
		newInfoCmd(o),
		newConfigCmd(o),
		newFiltersCmd(),
	)
	return root
}

// load reads the dotenv file, the configuration and the environment, in
// that order of increasing precedence.
func (o *options) load(cmd *cobra.Command) error {
	if o.envFile != "" {
		err := godotenv.Load(o.envFile)
		if err != nil && !(errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file")) {
			return fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}

	path := o.configPath
	if path == "" {
		path = os.Getenv("QUILL_CONFIG")
	}
	cfg := quill.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = quill.LoadConfig(path); err != nil {
			return err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	o.cfg = cfg
	return nil
}

// thumbnailBase returns the configured thumbnail root, falling back to
// the per-user cache directory.
func (o *options) thumbnailBase() string {
	if o.cfg.ThumbnailBasePath != "" {
		return o.cfg.ThumbnailBasePath
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "thumbnails")
}

// session is a core driven synchronously by one command.
type session struct {
	core *quill.Core
	errs []*quill.Error
}

func (o *options) open(cfg quill.Config) (*session, error) {
	s := &session{}
	c, err := quill.New(cfg, quill.WithManualDispatch(), quill.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	c.OnError(func(e *quill.Error) { s.errs = append(s.errs, e) })
	s.core = c
	return s, nil
}

// run processes tasks until the core is idle or ctx is done.
func (s *session) run(ctx context.Context) error {
	for {
		ok, err := s.core.ReleaseAndWait(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// err returns the errors raised so far.
func (s *session) err() error {
	errs := make([]error, len(s.errs))
	for i, e := range s.errs {
		errs[i] = e
	}
	return errors.Join(errs...)
}

func (s *session) close() {
	_ = s.core.Close()
}

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gogpu/quill"
)

func newThumbnailsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "thumbnails FILE...",
		Short: "Create missing or outdated thumbnails",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := o.cfg
			cfg.ThumbnailBasePath = o.thumbnailBase()
			cfg.ThumbnailCreation = true
			if cfg.ThumbnailBasePath == "" {
				return errors.New("no thumbnail directory")
			}
			if len(cfg.PreviewLevels) == 0 {
				return errors.New("no preview levels configured")
			}
			s, err := o.open(cfg)
			if err != nil {
				return err
			}
			defer s.close()

			handles := make([]*quill.Handle, 0, len(args))
			for _, path := range args {
				h, err := s.core.Open(path, quill.FormatUnknown)
				if err != nil {
					return err
				}
				// Thumbnails are written for preview levels only.
				if err := h.SetDisplayLevel(len(cfg.PreviewLevels) - 1); err != nil {
					return err
				}
				handles = append(handles, h)
			}
			if err := s.run(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, h := range handles {
				if h.State() != quill.StateNormal && h.State() != quill.StateReadOnly {
					fmt.Fprintf(out, "%s: skipped (%s)\n", h.Path(), h.State())
					continue
				}
				for _, lv := range cfg.PreviewLevels {
					if lv.Flavor == "" {
						continue
					}
					thumb := s.core.ThumbnailPath(h.Path(), lv.Flavor)
					if _, err := os.Stat(thumb); err == nil {
						fmt.Fprintf(out, "%s: %s %s\n", h.Path(), lv.Flavor, thumb)
					}
				}
			}
			return s.err()
		},
	}
}

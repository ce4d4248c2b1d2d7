package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gogpu/quill"
)

func newInfoCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info FILE...",
		Short: "Show the state and edit history of images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(o.cfg)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			for _, path := range args {
				h, err := s.core.Open(path, quill.FormatUnknown)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\n  state: %s\n  format: %s\n  size: %v\n",
					h.Path(), h.State(), h.Format().MIMEType(), h.FullImageSize())
				fmt.Fprintf(out, "  dirty: %v\n  undo: %v\n  redo: %v\n  revert: %v\n",
					h.IsDirty(), h.CanUndo(), h.CanRedo(), h.CanRevert())
			}
			return s.err()
		},
	}
}

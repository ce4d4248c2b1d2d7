package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gogpu/quill"
)

func newEditCmd(o *options) *cobra.Command {
	var (
		ops    []string
		undo   int
		revert bool
		output string
		format string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "edit FILE",
		Short: "Apply filters to an image and save it",
		Long: `Apply filters to an image on top of its edit history and save the result.

Operations are given as name or name:key=value,... and run in order, for
example --op brightness:delta=20 --op crop:x=0,y=0,width=640,height=480.
Saving over the file backs up the unedited original next to it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(o.cfg)
			if err != nil {
				return err
			}
			defer s.close()

			h, err := s.core.Open(args[0], quill.FormatUnknown)
			if err != nil {
				return err
			}
			if st := h.State(); st != quill.StateNormal {
				if err := s.err(); err != nil {
					return err
				}
				return fmt.Errorf("%s: cannot edit a file in state %s", h.Path(), st)
			}
			if revert {
				if err := h.Revert(); err != nil {
					return err
				}
			}
			for range undo {
				if err := h.Undo(); err != nil {
					return err
				}
			}
			for _, op := range ops {
				f, err := parseOp(op)
				if err != nil {
					return err
				}
				if err := h.RunFilter(f); err != nil {
					return fmt.Errorf("%s: %w", f.Name(), err)
				}
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v, dirty %v\n", h.Path(), h.FullImageSize(), h.IsDirty())
				return nil
			}

			target := h.Path()
			if output != "" {
				abs, err := filepath.Abs(output)
				if err != nil {
					return err
				}
				target = abs
				err = h.SaveAs(abs, quill.ParseFormat(format))
				if err != nil {
					return err
				}
			} else if err := h.Save(); err != nil {
				return err
			}
			if err := s.run(cmd.Context()); err != nil {
				return err
			}
			if err := s.err(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%v)\n", target, h.FullImageSize())
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&ops, "op", "o", nil, "filter operation, repeatable")
	cmd.Flags().IntVar(&undo, "undo", 0, "undo this many steps of the stored history first")
	cmd.Flags().BoolVar(&revert, "revert", false, "start from the unedited original")
	cmd.Flags().StringVar(&output, "output", "", "write to another file instead of saving in place")
	cmd.Flags().StringVar(&format, "format", "", "output format (default from the output extension)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "apply the operations without saving")
	return cmd
}

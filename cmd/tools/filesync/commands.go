package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/SakshamManav/File-Synchronization/backend/internal/poller"
	"github.com/SakshamManav/File-Synchronization/backend/internal/qr"
	"github.com/SakshamManav/File-Synchronization/backend/pkg/api"
)

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var ttl time.Duration
	var showQR string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a new session and print its QR code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.api()
			if err != nil {
				return err
			}
			var ttlArg *time.Duration
			if cmd.Flags().Changed("ttl") {
				ttlArg = &ttl
			}
			created, err := c.Create(cmd.Context(), ttlArg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session:   %s\n", created.SessionID)
			fmt.Fprintf(out, "Upload:    %s\n", created.UploadURL)
			fmt.Fprintf(out, "Status:    %s\n", created.StatusURL)
			fmt.Fprintf(out, "Downloads: %s\n", created.DownloadsURL)
			if created.ExpiresAt != nil {
				fmt.Fprintf(out, "Expires:   %s (%s)\n", created.ExpiresAt.Local().Format(time.RFC1123), humanize.Time(*created.ExpiresAt))
			} else {
				fmt.Fprintln(out, "Expires:   never")
			}

			if wantQR(showQR, out) {
				code, err := qr.Terminal(created.StatusURL)
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				fmt.Fprint(out, code)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Session lifetime (0 = never expires; default is the server's)")
	cmd.Flags().StringVar(&showQR, "qr", "auto", "Print a terminal QR code: auto, always or never")
	return cmd
}

func wantQR(mode string, out io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := out.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show uploads and messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.api()
			if err != nil {
				return err
			}
			status, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(status, time.Now()))
			return nil
		},
	}
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <session-id> <file>...",
		Short: "Send files to a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.api()
			if err != nil {
				return err
			}
			sessionID := args[0]
			for _, path := range args[1:] {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				uploaded, err := c.Upload(cmd.Context(), sessionID, filepath.Base(path), f)
				f.Close()
				if err != nil {
					return fmt.Errorf("upload %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", uploaded.File, uploaded.Filename, humanize.Bytes(uint64(max(uploaded.Size, 0))))
			}
			return nil
		},
	}
}

func newMessageCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "message <session-id> <text>",
		Short: "Send a text message to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.api()
			if err != nil {
				return err
			}
			if err := c.SendMessage(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "message sent")
			return nil
		},
	}
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Poll a session until something arrives or it expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.api()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var expired bool

			p := poller.New(c, poller.Handlers{
				OnReady: func(_ string, status api.StatusResponse) {
					fmt.Fprint(out, renderStatus(status, time.Now()))
				},
				OnExpired: func(id string) {
					expired = true
					fmt.Fprintf(out, "session %s has ended; create a new one\n", id)
				},
				OnError: func(_ string, err error) {
					fmt.Fprintf(cmd.ErrOrStderr(), "poll failed: %v\n", err)
				},
			}, poller.Options{Interval: interval})
			defer p.Stop()

			fmt.Fprintf(out, "waiting for session %s...\n", args[0])
			<-p.Start(cmd.Context(), args[0])

			if err := cmd.Context().Err(); err != nil {
				return err
			}
			if expired {
				return fmt.Errorf("session %s expired", args[0])
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", poller.DefaultInterval, "Polling interval")
	return cmd
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <session-id> <filename>",
		Short: "Save an uploaded file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.api()
			if err != nil {
				return err
			}
			status, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			view, ok := findUpload(status.Uploads, args[1])
			if !ok {
				return fmt.Errorf("no upload named %q in session %s", args[1], args[0])
			}

			target := output
			if target == "" {
				target = filepath.Base(view.OriginalName)
			}
			f, err := os.Create(target)
			if err != nil {
				return err
			}
			n, err := c.Download(cmd.Context(), view.URL, f)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				_ = os.Remove(target)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s)\n", target, humanize.Bytes(uint64(n)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination path (default: the original file name)")
	return cmd
}

// findUpload matches the stored name first, then the original name.
func findUpload(uploads []api.UploadView, name string) (api.UploadView, bool) {
	for _, u := range uploads {
		if u.Filename == name {
			return u, true
		}
	}
	for _, u := range uploads {
		if u.OriginalName == name {
			return u, true
		}
	}
	return api.UploadView{}, false
}

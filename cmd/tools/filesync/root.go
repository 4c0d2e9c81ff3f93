package main

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/SakshamManav/File-Synchronization/backend/pkg/client"
)

const defaultServer = "http://localhost:8080"

type commandContext struct {
	serverFlag *string

	clientOnce sync.Once
	client     *client.Client
	clientErr  error
}

func newCommandContext(serverFlag *string) *commandContext {
	return &commandContext{serverFlag: serverFlag}
}

func (c *commandContext) api() (*client.Client, error) {
	c.clientOnce.Do(func() {
		server := ""
		if c.serverFlag != nil {
			server = strings.TrimSpace(*c.serverFlag)
		}
		if server == "" {
			server = strings.TrimSpace(os.Getenv("FILESYNC_SERVER"))
		}
		if server == "" {
			server = defaultServer
		}
		c.client, c.clientErr = client.New(server)
	})
	if c.client == nil && c.clientErr == nil {
		return nil, errors.New("no server configured")
	}
	return c.client, c.clientErr
}

func newRootCommand() *cobra.Command {
	var serverFlag string

	ctx := newCommandContext(&serverFlag)

	rootCmd := &cobra.Command{
		Use:           "filesync",
		Short:         "Create drop sessions and collect what phones send to them",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "", "Server base URL (default $FILESYNC_SERVER or "+defaultServer+")")

	rootCmd.AddCommand(newCreateCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newUploadCommand(ctx))
	rootCmd.AddCommand(newMessageCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newDownloadCommand(ctx))

	return rootCmd
}

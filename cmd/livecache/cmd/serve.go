package cmd

import (
	"github.com/orchestra-mcp/livecache/src/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the project list live and serve it for inspection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a := newApp(loadConfig())
		defer a.close()

		repo := a.projects(true)
		_, release, err := repo.Projects(ctx)
		if err != nil {
			return err
		}
		defer release()

		return server.New(a.manager, repo, a.logger).Serve(ctx, serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8090", "listen address")
}

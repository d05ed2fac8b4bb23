package cmd

import (
	"fmt"

	"github.com/orchestra-mcp/livecache/src/project"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the project list every time it changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a := newApp(loadConfig())
		defer a.close()

		conn := a.connection()
		removeUp := conn.OnConnect(func() { a.logger.Info().Str("url", conn.URL()).Msg("realtime connected") })
		defer removeUp()
		removeDown := conn.OnDisconnect(func() { a.logger.Warn().Msg("realtime disconnected, retrying") })
		defer removeDown()

		list, release, err := a.projects(true).Projects(ctx)
		if err != nil {
			return err
		}
		defer release()

		out := cmd.OutOrStdout()
		updates := make(chan []project.Project, 16)
		remove := list.OnChange(func(items []project.Project) {
			select {
			case updates <- items:
			default:
				a.logger.Debug().Msg("output busy, skipping a snapshot")
			}
		})
		defer remove()

		if err := printProjects(out, list.Snapshot()); err != nil {
			return err
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case items := <-updates:
				fmt.Fprintln(out)
				if err := printProjects(out, items); err != nil {
					return err
				}
			}
		}
	},
}

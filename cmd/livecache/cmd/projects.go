package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/orchestra-mcp/livecache/src/project"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var projectsCmd = &cobra.Command{
	Use:     "projects",
	Aliases: []string{"project", "p"},
	Short:   "List and change projects",
}

var outputJSON bool

func init() {
	projectsCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print JSON instead of a table")

	addProjectFlags(projectsCreateCmd.Flags())
	addProjectFlags(projectsUpdateCmd.Flags())

	projectsCmd.AddCommand(projectsListCmd, projectsGetCmd, projectsCreateCmd, projectsUpdateCmd, projectsDeleteCmd)
}

var projectFields = []string{
	"code", "name", "owner", "status", "start-date", "due-date", "budget", "progress", "tags", "description",
}

func addProjectFlags(fs *pflag.FlagSet) {
	fs.String("code", "", "project code")
	fs.String("name", "", "project name")
	fs.String("owner", "", "project owner")
	fs.Int("status", 0, "status: 0 planning, 1 active, 2 paused, 3 done")
	fs.String("start-date", "", "start date (ISO 8601)")
	fs.String("due-date", "", "due date (ISO 8601)")
	fs.Float64("budget", 0, "budget")
	fs.Int("progress", 0, "progress 0-100")
	fs.StringSlice("tags", nil, "tags")
	fs.String("description", "", "description")
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a := newApp(loadConfig())
		defer a.close()

		list, release, err := a.projects(false).Projects(cmd.Context())
		if err != nil {
			return err
		}
		defer release()
		return printProjects(cmd.OutOrStdout(), list.Snapshot())
	},
}

var projectsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(loadConfig())
		defer a.close()

		item, release, err := a.projects(false).Project(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer release()
		p, _ := item.Get()
		return printProject(cmd.OutOrStdout(), p)
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fs := cmd.Flags()
		req := project.CreateRequest{}
		req.Code, _ = fs.GetString("code")
		req.Name, _ = fs.GetString("name")
		req.Owner, _ = fs.GetString("owner")
		req.StartDate, _ = fs.GetString("start-date")
		req.DueDate, _ = fs.GetString("due-date")
		req.Tags, _ = fs.GetStringSlice("tags")
		req.Description, _ = fs.GetString("description")
		status, _ := fs.GetInt("status")
		req.Status = project.Status(status)
		if fs.Changed("budget") {
			v, _ := fs.GetFloat64("budget")
			req.Budget = &v
		}
		if fs.Changed("progress") {
			v, _ := fs.GetInt("progress")
			req.Progress = &v
		}
		if req.Name == "" {
			return fmt.Errorf("--name is required")
		}

		a := newApp(loadConfig())
		defer a.close()
		created, err := a.projects(false).Create(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printProject(cmd.OutOrStdout(), created)
	},
}

var projectsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a project; only the given flags change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := updateRequest(cmd.Flags())
		if err != nil {
			return err
		}

		a := newApp(loadConfig())
		defer a.close()
		updated, err := a.projects(false).Update(cmd.Context(), args[0], req)
		if err != nil {
			return err
		}
		return printProject(cmd.OutOrStdout(), updated)
	},
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(loadConfig())
		defer a.close()
		if err := a.projects(false).Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func updateRequest(fs *pflag.FlagSet) (project.UpdateRequest, error) {
	var req project.UpdateRequest
	if !slices.ContainsFunc(projectFields, fs.Changed) {
		return req, fmt.Errorf("nothing to update")
	}
	str := func(name string) *string {
		if !fs.Changed(name) {
			return nil
		}
		v, _ := fs.GetString(name)
		return &v
	}
	req.Code = str("code")
	req.Name = str("name")
	req.Owner = str("owner")
	req.StartDate = str("start-date")
	req.DueDate = str("due-date")
	req.Description = str("description")
	if fs.Changed("status") {
		v, _ := fs.GetInt("status")
		s := project.Status(v)
		req.Status = &s
	}
	if fs.Changed("budget") {
		v, _ := fs.GetFloat64("budget")
		req.Budget = &v
	}
	if fs.Changed("progress") {
		v, _ := fs.GetInt("progress")
		req.Progress = &v
	}
	if fs.Changed("tags") {
		req.Tags, _ = fs.GetStringSlice("tags")
	}
	return req, nil
}

func printProjects(w io.Writer, items []project.Project) error {
	if outputJSON {
		return writeJSON(w, items)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tNAME\tOWNER\tSTATUS\tUPDATED")
	for _, p := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Code, p.Name, p.Owner, p.Status, p.UpdatedAt)
	}
	return tw.Flush()
}

func printProject(w io.Writer, p project.Project) error {
	if outputJSON {
		return writeJSON(w, p)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", p.ID)
	fmt.Fprintf(tw, "Code\t%s\n", p.Code)
	fmt.Fprintf(tw, "Name\t%s\n", p.Name)
	fmt.Fprintf(tw, "Owner\t%s\n", p.Owner)
	fmt.Fprintf(tw, "Status\t%s\n", p.Status)
	fmt.Fprintf(tw, "Start\t%s\n", p.StartDate)
	if p.DueDate != "" {
		fmt.Fprintf(tw, "Due\t%s\n", p.DueDate)
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(tw, "Tags\t%s\n", strings.Join(p.Tags, ", "))
	}
	fmt.Fprintf(tw, "Updated\t%s\n", p.UpdatedAt)
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

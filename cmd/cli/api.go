package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	appservice "github.com/turtacn/portal-gateway/internal/application/service"
	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/pkg/constants"
	"github.com/turtacn/portal-gateway/pkg/errors"
)

// portalCommand opens the saved session and hands it to run.
func portalCommand(run func(ctx context.Context, p *portal, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		p, err := openPortal(cmd.Context(), "")
		if err != nil {
			return err
		}
		return run(cmd.Context(), p, cmd.OutOrStdout(), args)
	}
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in identity",
	Args:  cobra.NoArgs,
	RunE:  portalCommand(runWhoami),
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a valid access token, refreshing it if needed",
	Args:  cobra.NoArgs,
	RunE:  portalCommand(runToken),
}

var graphqlCmd = &cobra.Command{
	Use:   "graphql QUERY",
	Short: "Run a GraphQL operation against the academic backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vars, _ := cmd.Flags().GetString("variables")
		op, _ := cmd.Flags().GetString("operation")
		return portalCommand(func(ctx context.Context, p *portal, out io.Writer, args []string) error {
			return runGraphQL(ctx, p, out, args[0], vars, op)
		})(cmd, args)
	},
}

var restCmd = &cobra.Command{
	Use:   "rest METHOD PATH",
	Short: "Call the academic REST API, e.g. `rest GET /students/123/courses`",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		return portalCommand(func(ctx context.Context, p *portal, out io.Writer, args []string) error {
			return runREST(ctx, p, out, args[0], args[1], data)
		})(cmd, args)
	},
}

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "List your courses",
	Args:  cobra.NoArgs,
	RunE:  portalCommand(runCourses),
}

var gradesCmd = &cobra.Command{
	Use:   "grades",
	Short: "List your grades (students only)",
	Args:  cobra.NoArgs,
	RunE:  portalCommand(runGrades),
}

func init() {
	graphqlCmd.Flags().String("variables", "", "operation variables as a JSON object")
	graphqlCmd.Flags().String("operation", "", "operation name")
	restCmd.Flags().String("data", "", "request body")
	rootCmd.AddCommand(whoamiCmd, tokenCmd, graphqlCmd, restCmd, coursesCmd, gradesCmd)
}

func runWhoami(ctx context.Context, p *portal, out io.Writer, _ []string) error {
	identity, err := p.requireSession(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, identity)
}

func runToken(ctx context.Context, p *portal, out io.Writer, _ []string) error {
	if _, err := p.requireSession(ctx); err != nil {
		return err
	}
	token, err := p.controller.EnsureValidToken(ctx, constants.DefaultMinValidity)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runGraphQL(ctx context.Context, p *portal, out io.Writer, query, variables, operation string) error {
	req := models.GraphQLRequest{Query: query, OperationName: operation}
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &req.Variables); err != nil {
			return errors.ErrInvalidRequest("--variables must be a JSON object").WithCause(err)
		}
	}
	if _, err := p.requireSession(ctx); err != nil {
		return err
	}

	resp, err := p.gateway.GraphQL(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(out, resp)
}

func runREST(ctx context.Context, p *portal, out io.Writer, method, path, data string) error {
	method = strings.ToUpper(method)
	u, err := url.Parse(path)
	if err != nil {
		return errors.ErrInvalidRequest("malformed path").WithCause(err)
	}
	if _, err := p.requireSession(ctx); err != nil {
		return err
	}

	spec := appservice.RequestSpec{Method: method, Path: u.Path, Query: u.Query()}
	if data != "" {
		spec.Body = []byte(data)
		spec.Header = http.Header{}
		spec.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	}

	resp, err := p.gateway.Call(ctx, spec)
	if err != nil {
		return err
	}

	var body interface{}
	if json.Unmarshal(resp.Body, &body) == nil {
		return printJSON(out, body)
	}
	_, err = out.Write(resp.Body)
	return err
}

func runCourses(ctx context.Context, p *portal, out io.Writer, _ []string) error {
	actx, err := loadContext(ctx, p)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if actx.Kind == constants.IdentityKindStaff {
		fmt.Fprintln(tw, "ID\tNAME\tSEMESTER\tSTUDENTS")
		for _, c := range actx.Courses {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", c.ID, c.Name, c.Semester, len(c.Students))
		}
	} else {
		fmt.Fprintln(tw, "ID\tNAME\tSEMESTER")
		for _, c := range actx.Courses {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.Name, c.Semester)
		}
	}
	return tw.Flush()
}

func runGrades(ctx context.Context, p *portal, out io.Writer, _ []string) error {
	actx, err := loadContext(ctx, p)
	if err != nil {
		return err
	}
	if actx.Kind == constants.IdentityKindStaff {
		return errors.ErrInvalidRequest("grades are listed for students only")
	}

	names := make(map[string]string, len(actx.Courses))
	for _, c := range actx.Courses {
		names[c.ID] = c.Name
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COURSE\tTYPE\tITEM\tGRADE\tSEMESTER")
	for _, g := range actx.Grades {
		course := names[g.CourseID]
		if course == "" {
			course = g.CourseID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", course, g.GradeType, g.ItemID, g.GradeValue, g.Semester)
	}
	return tw.Flush()
}

func loadContext(ctx context.Context, p *portal) (*models.AcademicContext, error) {
	identity, err := p.requireSession(ctx)
	if err != nil {
		return nil, err
	}
	return p.contexts.Load(ctx, constants.PersistedSessionKey, identity, p.gateway)
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

//Personal.AI order the ending

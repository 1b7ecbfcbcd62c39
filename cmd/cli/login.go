package cli

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/turtacn/portal-gateway/pkg/errors"
)

const callbackPath = "/callback"

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in through the identity provider in your browser",
	Long: `login prints the identity provider's login URL and waits on a loopback listener
for the redirect. The redirect URI http://<listen>/callback must be registered for the client.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ln, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("listen for login callback: %w", err)
		}
		defer ln.Close()

		ctx := cmd.Context()
		p, err := openPortal(ctx, "http://"+ln.Addr().String()+callbackPath)
		if err != nil {
			return err
		}
		return runLogin(ctx, p, ln, cmd.OutOrStdout(), timeout)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPortal(cmd.Context(), "")
		if err != nil {
			return err
		}
		return runLogout(cmd.Context(), p, cmd.OutOrStdout())
	},
}

func init() {
	gin.SetMode(gin.ReleaseMode)
	loginCmd.Flags().String("listen", "127.0.0.1:8085", "loopback address for the login callback")
	loginCmd.Flags().Duration("timeout", 5*time.Minute, "how long to wait for the browser login")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}

func runLogin(ctx context.Context, p *portal, ln net.Listener, out io.Writer, timeout time.Duration) error {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	fmt.Fprintf(out, "Open this URL in your browser to log in:\n\n  %s\n\n", p.controller.AuthCodeURL(state, verifier))

	code, err := awaitCode(ctx, ln, state, timeout)
	if err != nil {
		return err
	}
	if err := p.controller.Login(ctx, code, verifier); err != nil {
		return err
	}

	identity, _ := p.store.Identity()
	fmt.Fprintf(out, "Logged in as %s (%s)\n", identity.Username, identity.Kind)
	return nil
}

func runLogout(ctx context.Context, p *portal, out io.Writer) error {
	if _, err := p.requireSession(ctx); err != nil {
		fmt.Fprintln(out, "Not logged in")
		return nil
	}
	hint := p.controller.Logout(ctx)
	fmt.Fprintln(out, "Logged out")
	if target := p.provider.EndSessionURL(hint); target != "" {
		fmt.Fprintf(out, "To end the identity provider session too, open:\n\n  %s\n", target)
	}
	return nil
}

type callbackResult struct {
	code string
	err  error
}

// awaitCode serves the loopback redirect until one callback arrives.
func awaitCode(ctx context.Context, ln net.Listener, state string, timeout time.Duration) (string, error) {
	results := make(chan callbackResult, 1)

	engine := gin.New()
	engine.GET(callbackPath, func(c *gin.Context) {
		var res callbackResult
		switch {
		case c.Query("error") != "":
			res.err = errors.ErrRequiresReauthentication("login was not completed: " + c.Query("error"))
		case subtle.ConstantTimeCompare([]byte(state), []byte(c.Query("state"))) != 1:
			res.err = errors.ErrInvalidRequest("login state mismatch")
		case c.Query("code") == "":
			res.err = errors.ErrMissingRequiredParameter("code")
		default:
			res.code = c.Query("code")
		}

		if res.err != nil {
			c.String(http.StatusBadRequest, "Login failed. You can close this window.")
		} else {
			c.String(http.StatusOK, "Login complete. You can close this window.")
		}
		select {
		case results <- res:
		default:
		}
	})

	srv := &http.Server{Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	go srv.Serve(ln)
	defer srv.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		return res.code, res.err
	case <-timer.C:
		return "", errors.ErrRequiresReauthentication("timed out waiting for the login callback")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

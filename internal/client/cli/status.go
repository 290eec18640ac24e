package cli

import (
	"context"
	"time"

	"github.com/iudanet/edusession/internal/client/token"
)

func (c *Cli) Status(_ context.Context) error {
	c.io.Println("=== Session Status ===")

	s := c.manager.Session()
	if !s.Authenticated() {
		c.io.Println("Status: Not authenticated")
		c.io.Println("Run 'sessionctl login' to authenticate.")
		return nil
	}

	c.io.Println("Status: Authenticated")
	c.io.Printf("User ID: %s\n", s.User.ID)
	c.io.Printf("Email: %s\n", s.User.Email)
	c.io.Printf("Role: %s\n", s.User.Role)
	c.printExpiry(s.Tokens.AccessToken)
	if s.RefreshInFlight {
		c.io.Println("Refresh: in progress")
	}
	return nil
}

func (c *Cli) printExpiry(access string) {
	exp, err := token.DecodeExpiry(access)
	if err != nil {
		c.io.Printf("Token expires: unknown (%v)\n", err)
		return
	}
	c.io.Printf("Token expires: %s\n", exp.Format(time.RFC3339))
	c.io.Printf("Time remaining: %s\n", formatRemaining(exp.Sub(c.clock.Now())))
}

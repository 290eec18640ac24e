package cli

import (
	"context"
)

func (c *Cli) Logout(ctx context.Context) error {
	c.io.Println("=== Logout ===")

	if !c.manager.Session().Authenticated() {
		c.io.Println("Not logged in.")
		return nil
	}

	c.manager.Logout(ctx)

	c.io.Println("✓ Logout successful!")
	c.io.Println("Your local session has been deleted.")
	return nil
}

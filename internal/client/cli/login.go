package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/edusession/internal/client/auth"
)

// Login выполняет вход; пустой email запрашивается интерактивно
func (c *Cli) Login(ctx context.Context, email string, passwords Passwords) error {
	c.io.Println("=== Login ===")

	if email == "" {
		var err error
		email, err = c.io.ReadInput("Email: ")
		if err != nil {
			return fmt.Errorf("failed to read email: %w", err)
		}
	}

	password, err := c.getPassword(passwords)
	if err != nil {
		return err
	}

	s, err := c.manager.Login(ctx, email, password)
	if err != nil {
		return loginHint(err)
	}

	c.io.Println("✓ Login successful!")
	c.io.Printf("Email: %s\n", s.User.Email)
	c.io.Printf("Role: %s\n", s.User.Role)
	if s.User.FullName != "" {
		c.io.Printf("Name: %s\n", s.User.FullName)
	}
	c.printExpiry(s.Tokens.AccessToken)
	return nil
}

func loginHint(err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return fmt.Errorf("%w. Check email and password", err)
	case errors.Is(err, auth.ErrAccountInactive):
		return fmt.Errorf("%w. Contact your administrator", err)
	case errors.Is(err, auth.ErrRateLimited):
		return fmt.Errorf("%w. Try again later", err)
	default:
		return err
	}
}

package cli

import (
	"context"
	"time"

	"github.com/iudanet/edusession/internal/client/session"
	"github.com/iudanet/edusession/internal/client/token"
)

// Watch держит сессию живой (планировщик обновляет токены) и печатает
// каждое изменение, пока ctx не отменен
func (c *Cli) Watch(ctx context.Context) error {
	unsubscribe := c.manager.Subscribe(func(s session.Session) {
		c.io.Printf("%s %s\n", c.clock.Now().Format(time.RFC3339), describe(s))
	})
	defer unsubscribe()

	c.io.Printf("%s %s\n", c.clock.Now().Format(time.RFC3339), describe(c.manager.Session()))
	<-ctx.Done()
	return nil
}

func describe(s session.Session) string {
	if !s.Authenticated() {
		return "logged out"
	}
	msg := "authenticated as " + s.User.Email
	if exp, err := token.DecodeExpiry(s.Tokens.AccessToken); err == nil {
		msg += ", access token until " + exp.Format(time.RFC3339)
	}
	if s.RefreshInFlight {
		msg += " (refreshing)"
	}
	return msg
}

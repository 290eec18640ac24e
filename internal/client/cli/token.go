package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/edusession/internal/client/session"
)

// Token печатает действительный access token, при необходимости обновляя его.
// Вывод без оформления, чтобы подставлять в скрипты.
func (c *Cli) Token(ctx context.Context) error {
	tok, err := c.manager.GetValidAccessToken(ctx)
	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		return fmt.Errorf("%w. Please run 'sessionctl login'", err)
	case err != nil:
		return err
	}
	c.io.Println(tok)
	return nil
}

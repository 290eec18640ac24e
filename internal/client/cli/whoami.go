package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/iudanet/edusession/pkg/api"
)

// WhoAmI запрашивает профиль у сервера через авторизованный HTTP клиент
func (c *Cli) WhoAmI(ctx context.Context) error {
	if _, err := c.requireSession(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+api.PathMe, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.manager.HTTPClient(ctx).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, errResp.Detail)
	}

	var user api.UserPayload
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return fmt.Errorf("failed to decode profile: %w", err)
	}

	c.io.Printf("ID: %s\n", user.ID)
	c.io.Printf("Email: %s\n", user.Email)
	c.io.Printf("Role: %s\n", user.Role)
	if user.FullName != "" {
		c.io.Printf("Name: %s\n", user.FullName)
	}
	return nil
}

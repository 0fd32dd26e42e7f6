package gateway

import (
	"crypto/sha256"
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/recap/pkg/config"
	"github.com/papercomputeco/recap/pkg/llm"
)

// PasswordHeader carries the password on requests without a JSON body.
const PasswordHeader = "X-Recap-Password"

// authorize compares the presented token with the configured password in
// constant time. Digests are compared so the length is not revealed either.
func authorize(cfg *config.Config, token string) error {
	want := sha256.Sum256([]byte(cfg.Server.Password))
	got := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return llm.AuthError{}
	}
	return nil
}

func authorizeHeader(c *fiber.Ctx, cfg *config.Config) error {
	return authorize(cfg, c.Get(PasswordHeader))
}

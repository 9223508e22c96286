package app

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"

	"github.com/aussiebroadwan/tokend/internal/token/service"
	"github.com/aussiebroadwan/tokend/pkg/idx"
)

// InitSigningKey builds the JWT claims enhancer for the daemon.
//
// Key modes:
//   - file: SigningKeyFile points at a raw 32-byte Ed25519 seed on disk.
//     Assertions stay verifiable across restarts.
//   - ephemeral: no file configured, a fresh key is generated on startup.
//     Assertions minted before the restart can no longer be verified.
//
// The key identifier in the JWT header is a fresh ULID per process, so
// verifiers can tell key generations apart.
func InitSigningKey(cfg Config, logger *slog.Logger) (*service.ClaimsEnhancer, error) {
	var key ed25519.PrivateKey

	if cfg.SigningKeyFile != "" {
		seed, err := os.ReadFile(cfg.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signing key must be a %d-byte seed, got %d bytes",
				ed25519.SeedSize, len(seed))
		}
		key = ed25519.NewKeyFromSeed(seed)
		logger.Info("signing key loaded", "path", cfg.SigningKeyFile)
	} else {
		_, generated, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		key = generated
		logger.Warn("ephemeral signing key generated, assertions will not survive restarts")
	}

	return &service.ClaimsEnhancer{
		Issuer: cfg.Issuer,
		Key:    key,
		Kid:    idx.New().String(),
	}, nil
}

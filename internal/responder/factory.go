package responder

import (
	"log"
	"time"

	"finsage/internal/config"
)

// NewGenerator selects the generation backend from configuration. Mock
// mode uses the deterministic rule generator; anything else is treated as
// the base URL of a remote generation service.
func NewGenerator(cfg *config.Config) Generator {
	if cfg.Mode == config.ModeMock {
		log.Println("FINSAGE_MODE=MOCK, using deterministic rule generator")
		return NewRuleGenerator()
	}
	return NewRemoteGenerator(cfg.GeneratorURL, 120*time.Second)
}

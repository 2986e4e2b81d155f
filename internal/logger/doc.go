// Package logger provides component-scoped structured logging for the
// resolver, the fetch gateway and the tools built on them.
//
// Features:
//   - Levels TRACE, DEBUG, INFO, WARN, ERROR
//   - Per-component enablement
//   - Text, JSON and color output
//   - JSON file and TURKANIME_LOG_* environment configuration
//   - Size-based rotating file output
//
// Usage:
//
//	log := logger.WithComponent(logger.ComponentGateway)
//	log.Warn("falling back to plain client", logger.Fields{
//		"mirror": "https://www.turkanime.co",
//	})
//
//	cfg := logger.DefaultConfig()
//	cfg.Level = logger.DEBUG
//	cfg.Format = logger.FormatJSON
//	logger.SetGlobalLogger(logger.New(cfg))
//
// Components:
//   - ComponentApp: CLI and resolver facade
//   - ComponentGateway: tier selection and origin requests
//   - ComponentSolver: remote challenge solver calls
//   - ComponentKeys: AES key discovery
//   - ComponentCipher: payload decryption
//   - ComponentUnmask: CSRF token and sources exchange
//   - ComponentSite: search, episode and stream scraping
//   - ComponentDownloader: media transfer
package logger

// Package config provides configuration management for the test-run service.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have sensible defaults for development use, except
// BACKEND_BASE_URL which is required when BACKEND_KIND is http.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config

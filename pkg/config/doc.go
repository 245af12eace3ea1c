// Package config loads environment-driven configuration structs.
//
// Load reads an optional .env file once per process (github.com/joho/godotenv)
// and then parses the environment into the target struct using the
// `env`/`envDefault` tags of github.com/caarlos0/env. Each struct type is
// parsed once; later calls return the cached value.
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
package config

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"socialauth/cfg"
	"socialauth/pkg/cache"
	"socialauth/pkg/oauth2"
)

const usage = `usage: sessions <command> [args]

commands:
  show <session-id>             print a session (tokens redacted)
  find <provider> <user-id>     print the latest session of a provider user
  revoke <session-id>           delete a session
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// ============
	// config
	// ============
	config, errCfg := cfg.Load()
	if errCfg != nil {
		log.Fatal(errCfg)
	}
	if config.Session.Store != "redis" {
		log.Fatalf("SESSION_STORE is %q: only the redis store is shared with the server", config.Session.Store)
	}

	// ============
	// Cache
	// ============
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redis := cache.NewRedisCache(cache.RedisOptions{
		Addr:     config.Redis.Addr(),
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	if err := cache.Ping(ctx, redis); err != nil {
		log.Fatalf("failed to connect to redis at %s: %v", config.Redis.Addr(), err)
	}
	store := oauth2.NewCacheSessionStore(redis)

	if err := run(ctx, store, args); err != nil {
		if errors.Is(err, oauth2.ErrSessionNotFound) {
			fmt.Fprintln(os.Stderr, "session not found")
			os.Exit(1)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, store *oauth2.CacheSessionStore, args []string) error {
	switch {
	case args[0] == "show" && len(args) == 2:
		s, err := store.Get(ctx, args[1])
		if err != nil {
			return err
		}
		return printSession(s)
	case args[0] == "find" && len(args) == 3:
		s, err := store.FindByProviderUser(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		return printSession(s)
	case args[0] == "revoke" && len(args) == 2:
		if err := store.Delete(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("revoked")
		return nil
	default:
		flag.Usage()
		os.Exit(2)
		return nil
	}
}

func printSession(s *oauth2.AuthSession) error {
	if s.AccessToken != "" {
		s.AccessToken = "[redacted]"
	}
	if s.RefreshToken != "" {
		s.RefreshToken = "[redacted]"
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

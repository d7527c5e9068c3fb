// Command devtoken prints a signed token for connecting to a local relay.
//
//	JWT_SECRET=... devtoken -id 42 -username alice
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Tyrowin/lfgrelay/internal/auth"
	"github.com/Tyrowin/lfgrelay/internal/logging"
	"github.com/Tyrowin/lfgrelay/internal/protocol"
	"github.com/Tyrowin/lfgrelay/internal/server"
)

func main() {
	id := flag.String("id", "", "user id")
	username := flag.String("username", "", "display name")
	role := flag.String("role", auth.DefaultRole, "user role")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	log := logging.FromEnv(os.Stderr)

	if *id == "" || *username == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := server.NewConfigFromEnv()
	mgr := auth.NewManager(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, TokenTTL: *ttl})

	token, err := mgr.Issue(protocol.User{ID: *id, Username: *username, Role: *role})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to sign token")
	}
	fmt.Println(token)
}

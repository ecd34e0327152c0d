// Command devtoken mints a bearer token for local development.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/harentsoaR/fablab-api/internal/config"
	"github.com/harentsoaR/fablab-api/internal/utils"
)

func main() {
	sub := flag.String("sub", "", "external auth id (token subject)")
	email := flag.String("email", "", "email claim")
	name := flag.String("name", "", "name claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *sub == "" {
		log.Fatal("-sub is required")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	tokens := utils.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	token, err := tokens.Sign(*sub, *email, *name, *ttl)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	fmt.Println(token)
}

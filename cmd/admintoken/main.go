// cmd/admintoken/main.go
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/printshop/storefront-backend/internal/config"
	"github.com/printshop/storefront-backend/internal/utils"
)

// admintoken prints a signed admin bearer token for the admin API.
func main() {
	subject := flag.String("subject", "", "operator the token is issued to")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		logrus.Fatal("-subject is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal("Failed to load configuration: ", err)
	}
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	token, err := utils.GenerateJWT(*subject, utils.RoleAdmin, *ttl)
	if err != nil {
		logrus.Fatal("Failed to sign token: ", err)
	}
	fmt.Println(token)
}

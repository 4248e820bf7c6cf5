// Command issue-token prints a staff bearer token for the POS API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/kitchen-ledger/internal/domain/auth"
)

func main() {
	var (
		secret   string
		employee string
		role     string
		ttl      time.Duration
	)
	flag.StringVar(&secret, "secret", "", "HS256 secret (or POS_JWT_SECRET env)")
	flag.StringVar(&employee, "employee", "", "employee id (token subject)")
	flag.StringVar(&role, "role", string(auth.RoleCashier), "cashier, kitchen or manager")
	flag.DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if secret == "" {
		secret = os.Getenv("POS_JWT_SECRET")
	}
	if secret == "" || employee == "" {
		lg.Fatal("secret and employee are required")
	}
	if !auth.Role(role).Known() {
		lg.Fatal("Unknown role", zap.String("role", role))
	}

	tok, err := auth.NewTokens([]byte(secret)).Issue(auth.Actor{EmployeeID: employee, Role: auth.Role(role)}, ttl)
	if err != nil {
		lg.Fatal("Issue token", zap.Error(err))
	}
	fmt.Println(tok)
}

// seed creates a verified development vendor account.
// Idempotent: skips when an account for the phone already exists.
package main

import (
	"context"
	"errors"
	"flag"
	"log"

	"phone-otp-auth/backend/internal/account"
	accountdomain "phone-otp-auth/backend/internal/account/domain"
	accountrepo "phone-otp-auth/backend/internal/account/repository"
	"phone-otp-auth/backend/internal/config"
	"phone-otp-auth/backend/internal/db"
	"phone-otp-auth/backend/internal/phone"
)

const (
	devPhone        = "+15550000001"
	devBusinessName = "Dev Corner Shop"
	devOwnerName    = "Dev Owner"
)

func main() {
	rawPhone := flag.String("phone", devPhone, "Phone number of the seeded account")
	business := flag.String("business", devBusinessName, "Business name")
	owner := flag.String("owner", devOwnerName, "Owner name")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	p, err := phone.Normalize(*rawPhone)
	if err != nil {
		log.Fatalf("phone %q: %v", *rawPhone, err)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	resolver := account.NewResolver(
		accountrepo.NewPostgresRepository(conn),
		accountrepo.NewPostgresProfileRepository(conn),
		accountrepo.NewMemoryStagingRepository(),
		cfg.OTPTTL(),
		nil,
	)
	ctx := context.Background()

	a, err := resolver.CompleteAuth(ctx, p, accountdomain.ActionRegister, &accountdomain.RegistrationDetails{
		BusinessName: *business,
		OwnerName:    *owner,
	})
	if errors.Is(err, account.ErrAccountAlreadyExists) {
		log.Printf("Seed already applied (%s exists). Skipping.", p)
		return
	}
	if err != nil {
		log.Fatalf("create account: %v", err)
	}
	log.Printf("Seeded verified account %s for %s", a.ID, p)
}

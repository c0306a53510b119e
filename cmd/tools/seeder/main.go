package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedUsers(db)
	seedPlans(db)
	seedPromocodes(db)

	log.Println("Seeding completed successfully!")
}

func seedUsers(db *sql.DB) {
	users := []struct {
		Name  string
		Email string
		Role  string
	}{
		{"Admin", "admin@vexaro.net", "admin"},
		{"Support", "support@vexaro.net", "admin"},
		{"Ivan Petrov", "ivan@example.com", "user"},
		{"Olga Smirnova", "olga@example.com", "user"},
		{"Dmitry Volkov", "dmitry@example.com", "user"},
	}

	fmt.Println("Seeding Users...")
	for _, u := range users {
		_, err := db.Exec(`
			INSERT INTO users (name, email, password_hash, roles)
			VALUES ($1, $2, crypt('password123', gen_salt('bf')), ARRAY[$3])
			ON CONFLICT (email) DO NOTHING;
		`, u.Name, u.Email, u.Role)
		if err != nil {
			log.Printf("Failed to seed user %s: %v", u.Email, err)
		}
	}
}

func seedPlans(db *sql.DB) {
	plans := []struct {
		Slug        string
		Name        string
		Description string
		DeviceLimit int
		// duration days -> price in kopeks
		Durations map[int]int64
	}{
		{
			Slug:        "basic",
			Name:        "Basic",
			Description: "Entry tier for a single device",
			DeviceLimit: 1,
			Durations:   map[int]int64{30: 19900, 90: 53900, 180: 99900, 365: 179900},
		},
		{
			Slug:        "standard",
			Name:        "Standard",
			Description: "Up to three devices, all locations",
			DeviceLimit: 3,
			Durations:   map[int]int64{30: 29900, 90: 80900, 180: 149900, 365: 269900},
		},
		{
			Slug:        "premium",
			Name:        "Premium",
			Description: "Up to ten devices, priority routing",
			DeviceLimit: 10,
			Durations:   map[int]int64{30: 49900, 90: 134900, 180: 249900, 365: 449900},
		},
	}

	fmt.Println("Seeding Plans...")
	for _, p := range plans {
		var planID string
		err := db.QueryRow(`
			INSERT INTO plans (slug, name, description, device_limit, active)
			VALUES ($1, $2, $3, $4, true)
			ON CONFLICT (slug) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				device_limit = EXCLUDED.device_limit
			RETURNING id;
		`, p.Slug, p.Name, p.Description, p.DeviceLimit).Scan(&planID)
		if err != nil {
			log.Printf("Failed to seed plan %s: %v", p.Slug, err)
			continue
		}

		for days, price := range p.Durations {
			_, err := db.Exec(`
				INSERT INTO plan_durations (plan_id, duration_days, price, active)
				VALUES ($1, $2, $3, true)
				ON CONFLICT (plan_id, duration_days) DO UPDATE SET price = EXCLUDED.price;
			`, planID, days, price)
			if err != nil {
				log.Printf("Failed to seed duration %dd for %s: %v", days, p.Slug, err)
			}
		}
	}
}

func seedPromocodes(db *sql.DB) {
	promos := []struct {
		Code       string
		Kind       string // "percent" or "fixed_amount"
		Value      int64
		PercentBps sql.NullInt64
		Audience   string
	}{
		{"WELCOME10", "percent", 0, sql.NullInt64{Int64: 1000, Valid: true}, "new_users"},
		{"SAVE100", "fixed_amount", 10000, sql.NullInt64{}, "all"},
	}

	fmt.Println("Seeding Promocodes...")
	for _, p := range promos {
		_, err := db.Exec(`
			INSERT INTO promocodes (code, kind, value, percent_bps, audience, valid_from, valid_to, min_spend)
			VALUES ($1, $2, $3, $4, $5, NOW(), NOW() + INTERVAL '1 year', 0)
			ON CONFLICT (code) DO NOTHING;
		`, p.Code, p.Kind, p.Value, p.PercentBps, p.Audience)
		if err != nil {
			log.Printf("Failed to seed promocode %s: %v", p.Code, err)
		}
	}
}

// Command main runs the database seeder for murmur.
package main

import (
	"flag"
	"log"

	"murmur/internal/bootstrap"
	"murmur/internal/config"
	"murmur/internal/seed"
)

func main() {
	numSubjects := flag.Int("subjects", 40, "Number of subjects (with wallets) to create")
	numRestrictions := flag.Int("restrictions", 60, "Number of restriction records to create")
	numIPBans := flag.Int("ipbans", 5, "Number of IP bans to create")
	shouldClean := flag.Bool("clean", true, "Clean seeded tables before seeding")
	flag.Parse()

	log.Println("Database Seeder")
	log.Printf("Target: %d subjects, %d restrictions, %d ip bans, clean=%v\n",
		*numSubjects, *numRestrictions, *numIPBans, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, _, err := bootstrap.InitRuntime(cfg, bootstrap.Options{Migrate: true})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s := seed.NewSeeder(db)

	if *shouldClean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	subjects, err := s.Subjects(*numSubjects)
	if err != nil {
		log.Fatalf("Subject seeding failed: %v", err)
	}
	if err := s.Restrictions(subjects, *numRestrictions); err != nil {
		log.Fatalf("Restriction seeding failed: %v", err)
	}
	if err := s.IPBans(*numIPBans); err != nil {
		log.Fatalf("IP ban seeding failed: %v", err)
	}

	log.Println("All done! The database is populated with demo moderation data.")
}

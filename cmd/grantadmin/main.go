// Command grantadmin creates a user when absent and promotes it to the
// admin role, so the first operator can log in through the magic-link flow.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/Specs7/LFIWEB/internal/config"
	"github.com/Specs7/LFIWEB/internal/model"
)

func main() {
	email := flag.String("email", "", "email address to promote to admin")
	flag.Parse()

	addr := strings.TrimSpace(strings.ToLower(*email))
	if addr == "" {
		fmt.Fprintln(os.Stderr, "usage: grantadmin -email user@example.org")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	user := model.User{Email: addr, Role: "admin"}
	if err := db.Where("email = ?", addr).FirstOrCreate(&user).Error; err != nil {
		log.Fatalf("lookup or create user: %v", err)
	}
	if user.Role != "admin" {
		if err := db.Model(&user).Update("role", "admin").Error; err != nil {
			log.Fatalf("promote user: %v", err)
		}
	}
	fmt.Printf("user %s (id=%d) has role admin\n", addr, user.ID)
}

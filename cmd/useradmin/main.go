package main

import (
	"blocksign/internal/config"
	"blocksign/internal/model"
	"blocksign/internal/repository/mongodb"
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// useradmin provisions users in the directory. The service itself never
// creates users; an operator runs this against the same database.
func main() {
	username := flag.String("username", "", "unique username (required)")
	email := flag.String("email", "", "email address for notifications (required)")
	fullName := flag.String("name", "", "display name")
	role := flag.String("role", model.RoleUser, "role: user or admin")
	flag.Parse()

	if *username == "" || *email == "" {
		flag.Usage()
		log.Fatalln("both -username and -email are required")
	}
	if *role != model.RoleUser && *role != model.RoleAdmin {
		log.Fatalln("role must be either user or admin")
	}

	logger := zap.NewNop()

	db, err := mongodb.NewConnection(logger, config.GetDbConnectionURI(), config.GetDatabaseName())
	if err != nil {
		log.Fatalln("failed to connect to the database:", err)
	}
	defer db.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), config.GetRequestTimeout())
	defer cancel()

	if err := db.EnsureIndexes(ctx); err != nil {
		log.Fatalln("failed to ensure the database indexes:", err)
	}

	user := model.User{
		ID:       uuid.NewString(),
		Username: *username,
		Email:    *email,
		FullName: *fullName,
		Role:     *role,
	}

	if err := db.InsertUser(ctx, user); err != nil {
		log.Fatalln("failed to insert the user:", err)
	}

	fmt.Println("user created")
	fmt.Println("id:      ", user.ID)
	fmt.Println("username:", user.Username)
	fmt.Println("role:    ", user.Role)
}

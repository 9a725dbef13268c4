package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/accountd/internal/server/config"
	"github.com/dmitrijs2005/accountd/internal/usertool"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: usertool <create|list>")
		os.Exit(2)
	}
	command := os.Args[1]
	os.Args = append(os.Args[:1], os.Args[2:]...)

	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := usertool.NewApp(cfg, bufio.NewReader(os.Stdin), os.Stdout)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	switch command {
	case "create":
		err = app.CreateUser(ctx)
	case "list":
		err = app.ListUsers(ctx)
	default:
		fmt.Fprintln(os.Stderr, "usage: usertool <create|list>")
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/veilpay/internal/cli"
	"github.com/dmitrijs2005/veilpay/internal/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	a := cli.NewApp(cfg, os.Stdout)

	if err := a.Run(ctx, os.Args[1:]); err != nil {
		log.Fatalf("%v", err)
	}

}

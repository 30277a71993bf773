package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/veilpay/internal/app"
	"github.com/dmitrijs2005/veilpay/internal/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	a.Run(ctx)

}

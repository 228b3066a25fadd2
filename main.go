package main

import (
	"embed"
	"log"
	"os"

	"encore-converter/internal/bootstrap"
)

//go:embed frontend
var appAssets embed.FS

func main() {
	app, err := bootstrap.NewWithAssets(appAssets, os.Getenv("ENCORE_CONFIG"))
	if err != nil {
		log.Fatalf("bootstrap app: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatalf("run app: %v", err)
	}
}

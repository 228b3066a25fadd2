// Command app runs the desktop shell against ./frontend on disk, for
// development without rebuilding the embedded assets.
package main

import (
	"log"

	"encore-converter/internal/bootstrap"
)

func main() {
	app, err := bootstrap.New()
	if err != nil {
		log.Fatalf("bootstrap app: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatalf("run app: %v", err)
	}
}
